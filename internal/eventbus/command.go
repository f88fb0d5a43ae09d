package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command is a point-to-point request addressed to one service.
type Command struct {
	CommandID     string          `json:"commandId"`
	CommandType   string          `json:"commandType"`
	TargetService string          `json:"targetService"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      CommandMetadata `json:"metadata"`
}

// CommandMetadata carries tracing information for a command.
type CommandMetadata struct {
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"userId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
}

// CommandHandler processes a command. A returned error requeues it.
type CommandHandler func(ctx context.Context, cmd Command) error

// NewCommand marshals payload into a new command of the given type.
func NewCommand(commandType string, payload interface{}) (Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("marshal %s payload: %w", commandType, err)
	}
	return Command{
		CommandID:   uuid.NewString(),
		CommandType: commandType,
		Payload:     raw,
		Metadata:    CommandMetadata{Timestamp: time.Now().UTC()},
	}, nil
}

// Decode unmarshals the command payload into v.
func (c Command) Decode(v interface{}) error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("command %s has no payload", c.CommandType)
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.CommandType, err)
	}
	return nil
}
