package ingestion

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/ledger"
	"NoteLedger/internal/observability"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Executor applies a decoded command. core.Processor implements it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (command.Result, error)
}

// Dispatcher decodes inbound messages and hands them to the executor.
//
// Messages are routed to a fixed set of shards by note id, so commands for
// one note apply in arrival order while different notes proceed in
// parallel. Every CreateNote lands on shard 0.
type Dispatcher struct {
	exec    Executor
	input   <-chan RawMessage
	shards  int
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(exec Executor, input <-chan RawMessage, shards int, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	if shards < 1 {
		shards = 1
	}
	return &Dispatcher{
		exec:    exec,
		input:   input,
		shards:  shards,
		metrics: metrics,
		logger:  logger,
	}
}

type parsed struct {
	raw RawMessage
	cmd command.Command
}

// Run blocks until ctx is cancelled or input is closed. Messages still
// queued when ctx ends are nak'd for redelivery.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	queues := make([]chan parsed, d.shards)
	for i := range queues {
		q := make(chan parsed, 64)
		queues[i] = q
		g.Go(func() error {
			d.drain(gctx, q)
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case raw, ok := <-d.input:
				if !ok {
					return nil
				}
				cmd, err := ParseRawMessage(raw)
				if err != nil {
					d.parseFailed(raw, err)
					continue
				}
				q := queues[uint64(cmd.NoteID())%uint64(d.shards)]
				select {
				case q <- parsed{raw: raw, cmd: cmd}:
				case <-gctx.Done():
					raw.nak()
					return gctx.Err()
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) drain(ctx context.Context, q <-chan parsed) {
	for p := range q {
		if ctx.Err() != nil {
			p.raw.nak()
			continue
		}
		d.handle(ctx, p)
	}
}

// handle executes one command and settles the message. Rejections are
// final and acked; a failed payout is nak'd so the claim is retried.
func (d *Dispatcher) handle(ctx context.Context, p parsed) {
	name := p.cmd.CommandType().String()
	res, err := d.exec.Execute(ctx, p.cmd)

	switch {
	case err == nil:
		p.raw.ack()
		if d.metrics != nil {
			d.metrics.IngestToApply.WithLabelValues(name).Observe(time.Since(p.raw.Timestamp).Seconds())
		}
		d.logger.Debug().
			Str("command", name).
			Str("request_id", res.RequestID.String()).
			Uint64("note_id", uint64(res.NoteID)).
			Msg("applied")

	case ledger.Classify(err) == ledger.ClassDependency:
		p.raw.nak()
		d.logger.Warn().Err(err).
			Str("command", name).
			Str("subject", p.raw.Subject).
			Msg("dependency failure, message will be redelivered")

	default:
		// Duplicates and rejected commands will not succeed on redelivery.
		p.raw.ack()
	}
}

func (d *Dispatcher) parseFailed(raw RawMessage, err error) {
	raw.term()
	if d.metrics != nil {
		d.metrics.IngestParseErrors.WithLabelValues(raw.Subject).Inc()
	}
	d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable message")
}
