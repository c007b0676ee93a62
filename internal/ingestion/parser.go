package ingestion

import (
	"NoteLedger/internal/command"
	"fmt"
	"strings"
)

// ParseRawMessage decodes a RawMessage into a typed command. The command
// type comes from the consumer the message arrived on; when that is not
// set, the last token of the subject decides.
func ParseRawMessage(raw RawMessage) (command.Command, error) {
	ct := raw.Type
	if ct == command.CommandTypeUnknown {
		ct = commandFromSubject(raw.Subject)
	}
	if ct == command.CommandTypeUnknown {
		return nil, fmt.Errorf("%w: unknown subject %q", command.ErrInvalidCommand, raw.Subject)
	}

	cmd, err := command.Decode(ct, raw.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ct, err)
	}
	return cmd, nil
}

// commandFromSubject maps notes.commands.<kind> to a command type.
func commandFromSubject(subject string) command.CommandType {
	rest, ok := strings.CutPrefix(subject, CommandSubjectRoot+".")
	if !ok {
		return command.CommandTypeUnknown
	}
	kind, _, _ := strings.Cut(rest, ".")
	return command.ParseCommandType(kind)
}
