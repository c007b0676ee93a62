package ingestion

import (
	"NoteLedger/internal/ledger"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream      = "NOTE_LEDGER_EVENTS"
	EventSubjectRoot = "notes.ledger.events"
)

// Publisher is the part of jetstream.JetStream the outbound feed needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes persisted journal entries for downstream
// consumers. Entries arrive only after the persistence worker wrote them.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan ledger.Entry
	logger    zerolog.Logger
}

func NewOutboundPublisher(js Publisher, inputChan <-chan ledger.Entry, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case entry, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, entry); err != nil {
				// Non-fatal: consumers can read the journal from the store.
				op.logger.Warn().Err(err).
					Uint64("sequence", entry.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, entry ledger.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	// The entry id doubles as the JetStream dedup key, so a re-published
	// entry after a restart is dropped by the server.
	_, err = op.js.Publish(ctx, EventSubject(entry), data, jetstream.WithMsgID(entry.EntryID.String()))
	return err
}

// EventSubject is notes.ledger.events.<EntryType>.<note_id>.
func EventSubject(entry ledger.Entry) string {
	return fmt.Sprintf("%s.%s.%d", EventSubjectRoot, entry.Type, entry.NoteID)
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubjectRoot + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     defaultStreamMaxAge,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", EventStream).Msg("ensured outbound stream")
	return nil
}
