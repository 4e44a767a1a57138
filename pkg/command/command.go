// Package command is a convenience layer over the client API: it exchanges
// fixed-shape command payloads between participants. It holds a Client and
// composes SendMessage calls; it adds no routing or delivery semantics of
// its own.
package command

import (
	"context"
	"encoding/json"

	"github.com/pagebus/pagebus/internal/logger"
	"github.com/pagebus/pagebus/pkg/client"
	"github.com/pagebus/pagebus/pkg/types"
)

// Well-known command methods
const (
	MethodPing    = "ping"
	MethodRefresh = "refresh"
)

// Payload is the fixed shape every command travels in
type Payload struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// CommandHandler processes an inbound command
type CommandHandler func(ctx context.Context, from types.ParticipantID, method string, args json.RawMessage) error

// Commander exchanges commands through a Client it holds
type Commander struct {
	client *client.Client
	logger *logger.Logger
}

// New creates a Commander over an existing client
func New(c *client.Client, log *logger.Logger) (*Commander, error) {
	if c == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "client cannot be nil")
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	return &Commander{
		client: c,
		logger: log.With("component", "commander", "participant_id", c.ID()),
	}, nil
}

// Client returns the underlying client handle
func (c *Commander) Client() *client.Client {
	return c.client
}

// Invoke sends a named command with arbitrary arguments to a participant.
// Delivery is as fire-and-forget as the underlying SendMessage.
func (c *Commander) Invoke(ctx context.Context, to types.ParticipantID, method string, args any) error {
	if method == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "method cannot be empty")
	}

	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalid, "command args are not serializable", err)
		}
		raw = data
	}

	return c.client.SendMessage(ctx, to, Payload{Method: method, Args: raw})
}

// Ping sends the ping command
func (c *Commander) Ping(ctx context.Context, to types.ParticipantID) error {
	return c.Invoke(ctx, to, MethodPing, nil)
}

// Refresh sends the refresh command
func (c *Commander) Refresh(ctx context.Context, to types.ParticipantID) error {
	return c.Invoke(ctx, to, MethodRefresh, nil)
}

// OnCommand installs the command handler on the underlying client. Inbound
// payloads that do not carry a method are ignored; they may be plain
// messages for other consumers of the same client.
func (c *Commander) OnCommand(fn CommandHandler) {
	c.client.OnMessage(func(ctx context.Context, msg *types.Message) error {
		var payload Payload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Method == "" {
			c.logger.Debug("Ignoring non-command payload", "from", msg.From)
			return nil
		}
		return fn(ctx, msg.From, payload.Method, payload.Args)
	})
}
