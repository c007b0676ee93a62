package ingestion

import (
	"NoteLedger/internal/command"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream       = "NOTE_COMMANDS"
	CommandSubjectRoot  = "notes.commands"
	defaultStreamMaxAge = 72 * time.Hour
)

// NATSSubscriber subscribes to the command subjects on JetStream and feeds
// raw messages to the Dispatcher via msgChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	msgChan   chan<- RawMessage
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawMessage is an inbound command that has not been decoded yet.
type RawMessage struct {
	Subject   string
	Type      command.CommandType
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // message handled, never redeliver
	NakFunc   func() // redeliver later
	TermFunc  func() // poison message, stop redelivering
}

func (m RawMessage) ack() {
	if m.AckFunc != nil {
		m.AckFunc()
	}
}

func (m RawMessage) nak() {
	if m.NakFunc != nil {
		m.NakFunc()
	}
}

func (m RawMessage) term() {
	if m.TermFunc != nil {
		m.TermFunc()
	} else {
		m.ack()
	}
}

// SubjectConfig maps a subject to the command decoded from it.
type SubjectConfig struct {
	Subject      string
	Command      command.CommandType
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one durable consumer per command.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: CommandSubjectRoot + ".create", Command: command.CommandTypeCreateNote, ConsumerName: "ledger-create", StreamName: CommandStream},
		{Subject: CommandSubjectRoot + ".invest", Command: command.CommandTypeInvest, ConsumerName: "ledger-invest", StreamName: CommandStream},
		{Subject: CommandSubjectRoot + ".deposit", Command: command.CommandTypeDepositYield, ConsumerName: "ledger-deposit", StreamName: CommandStream},
		{Subject: CommandSubjectRoot + ".claim", Command: command.CommandTypeClaim, ConsumerName: "ledger-claim", StreamName: CommandStream},
	}
}

// SubjectFor returns the subject a command of type ct is published on.
func SubjectFor(ct command.CommandType) (string, error) {
	for _, s := range DefaultSubjects() {
		if s.Command == ct {
			return s.Subject, nil
		}
	}
	return "", fmt.Errorf("%w: no subject for %s", command.ErrInvalidCommand, ct)
}

func NewNATSSubscriber(js jetstream.JetStream, msgChan chan<- RawMessage, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		msgChan: msgChan,
		logger:  logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		ct := cfg.Command
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject:   msg.Subject(),
				Type:      ct,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
				TermFunc:  func() { msg.Term() },
			}

			select {
			case ns.msgChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the command stream if it does not exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{CommandSubjectRoot + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    defaultStreamMaxAge,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("noteledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
