package ingestion

import (
	"NoteLedger/internal/command"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// CommandInjector publishes commands onto the command stream. It is the
// producer side used by admin tooling and integration tests; production
// traffic comes from upstream services writing the same JSON.
type CommandInjector struct {
	js Publisher
}

func NewCommandInjector(js Publisher) *CommandInjector {
	return &CommandInjector{js: js}
}

// Inject encodes cmd and publishes it on its command subject. The request
// id is used as the JetStream message id, so a repeated inject within the
// stream's duplicate window is dropped before it reaches the ledger.
func (ci *CommandInjector) Inject(ctx context.Context, cmd command.Command) error {
	if cmd.RequestID() == uuid.Nil {
		return fmt.Errorf("%w: inject requires a request id", command.ErrInvalidCommand)
	}

	subject, err := SubjectFor(cmd.CommandType())
	if err != nil {
		return err
	}
	data, err := command.Encode(cmd)
	if err != nil {
		return err
	}

	if _, err := ci.js.Publish(ctx, subject, data, jetstream.WithMsgID(cmd.RequestID().String())); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
