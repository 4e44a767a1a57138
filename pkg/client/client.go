// Package client provides the per-participant handle for the pagebus
// messaging system. A Client gives one participant a uniform send/receive
// API whether it lives in the hub context (talking to the broker directly)
// or in a nested context at any depth (relaying frames straight to the hub
// over a transport port, never through an intermediate context).
package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/internal/logger"
	"github.com/pagebus/pagebus/pkg/broker"
	"github.com/pagebus/pagebus/pkg/transport"
	"github.com/pagebus/pagebus/pkg/types"
)

// Handler processes a message addressed to this participant. Errors and
// panics are caught at the delivery boundary and logged; they never reach
// the sender.
type Handler func(ctx context.Context, msg *types.Message) error

// Client is the handle for one participant on the bus. Exactly one of
// brk/port is set: brk for hub-context participants, port for nested ones.
type Client struct {
	id     types.ParticipantID
	brk    *broker.Broker
	port   transport.Port
	cfg    config.ExistsCheckConfig
	logger *logger.Logger

	mu           sync.Mutex
	handler      Handler
	pending      map[types.RequestID]chan bool
	probeCancels map[uint64]context.CancelFunc
	nextProbe    uint64
	unregistered bool
}

// NewHub creates a Client for a participant living in the hub context.
// Registration happens immediately.
func NewHub(id types.ParticipantID, b *broker.Broker, cfg config.ExistsCheckConfig, log *logger.Logger) (*Client, error) {
	if b == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "broker cannot be nil")
	}

	c, err := newClient(id, cfg, log)
	if err != nil {
		return nil, err
	}
	c.brk = b

	if err := b.Register(id, broker.LocalFunc(c.dispatch)); err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to register hub participant", err)
	}

	c.logger.Debug("Hub participant registered", "participant_id", id)
	return c, nil
}

// NewNested creates a Client for a participant in a nested context. The
// port must reach the hub directly; intermediate contexts never re-route.
// Registration is sent immediately and is fire-and-forget: there is no
// acknowledgement, so the participant may be addressed by others before
// the hub has processed its registration, or send before its own
// registration lands. Callers that need certainty probe with
// CheckClientExists.
func NewNested(id types.ParticipantID, port transport.Port, cfg config.ExistsCheckConfig, log *logger.Logger) (*Client, error) {
	if port == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "port cannot be nil")
	}

	c, err := newClient(id, cfg, log)
	if err != nil {
		return nil, err
	}
	c.port = port

	port.SetReceiver(c.handleFrame)

	frame, err := types.EncodeFrame(types.NewRegister(id))
	if err != nil {
		return nil, err
	}
	if err := port.Send(frame); err != nil {
		// Best effort: the registration may still land if the port
		// recovers, and the caller can probe for it.
		c.logger.Warn("Failed to send registration", "participant_id", id, "error", err)
	}

	c.logger.Debug("Nested participant registration sent", "participant_id", id)
	return c, nil
}

func newClient(id types.ParticipantID, cfg config.ExistsCheckConfig, log *logger.Logger) (*Client, error) {
	if id.IsEmpty() {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "participant id cannot be empty")
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	if cfg.MaxAttempts == 0 && cfg.Interval == 0 && cfg.ResponseGrace == 0 {
		cfg = config.DefaultExistsCheckConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidArgument, "invalid exists check config", err)
	}

	return &Client{
		id:           id,
		cfg:          cfg,
		logger:       log.With("component", "client", "participant_id", id),
		pending:      make(map[types.RequestID]chan bool),
		probeCancels: make(map[uint64]context.CancelFunc),
	}, nil
}

// ID returns this participant's id
func (c *Client) ID() types.ParticipantID {
	return c.id
}

// IsHub reports whether this client lives in the hub context
func (c *Client) IsHub() bool {
	return c.brk != nil
}

// OnMessage installs the handler invoked for every message addressed to
// this participant, replacing any previous handler. There is at most one
// handler at a time; there is no fan-out to multiple local listeners.
func (c *Client) OnMessage(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// SendMessage addresses a payload to another participant and dispatches it
// without waiting for delivery. The payload must be JSON-serializable; it
// travels opaquely. No confirmation is returned: an unreachable target is
// silently a no-op at the hub.
func (c *Client) SendMessage(ctx context.Context, to types.ParticipantID, payload any) error {
	if to.IsEmpty() {
		return types.NewError(types.ErrCodeInvalidArgument, "target participant id cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.ErrCodeCanceled, "send canceled", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return types.WrapError(types.ErrCodeInvalid, "payload is not serializable", err)
	}

	msg := &types.Message{From: c.id, To: to, Payload: raw}

	if c.brk != nil {
		return c.brk.Route(msg)
	}

	frame, err := types.EncodeFrame(msg)
	if err != nil {
		return err
	}
	return c.port.Send(frame)
}

// Unregister removes this participant from the registry, detaches its
// transport listener and cancels any outstanding existence probes. Nested
// participants must call this before their context goes away, or their
// registry entry outlives them.
func (c *Client) Unregister() error {
	c.mu.Lock()
	if c.unregistered {
		c.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "already unregistered")
	}
	c.unregistered = true
	cancels := make([]context.CancelFunc, 0, len(c.probeCancels))
	for _, cancel := range c.probeCancels {
		cancels = append(cancels, cancel)
	}
	c.probeCancels = make(map[uint64]context.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if c.brk != nil {
		c.brk.Unregister(c.id)
		c.logger.Debug("Hub participant unregistered")
		return nil
	}

	frame, err := types.EncodeFrame(types.NewUnregister(c.id))
	if err != nil {
		return err
	}
	sendErr := c.port.Send(frame)

	// Detach from the shared channel regardless of send outcome.
	c.port.SetReceiver(func([]byte) {})

	if sendErr != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to send unregistration", sendErr)
	}
	c.logger.Debug("Nested participant unregistration sent")
	return nil
}

// Observe installs the hub's routing observer through this client. The
// operation is reserved for the hub context; nested clients fail fast.
func (c *Client) Observe(fn broker.Observer) error {
	if c.brk == nil {
		return types.NewError(types.ErrCodePermission, "observe is reserved for the hub context")
	}
	c.brk.SetObserver(fn)
	return nil
}

// dispatch delivers an inbound message to the installed handler. Only
// messages carrying both endpoints and addressed to this participant are
// accepted; everything else is ignored. Handler errors and panics are
// contained here and never escape to whoever triggered delivery.
func (c *Client) dispatch(msg *types.Message) error {
	if !msg.Valid() || msg.To != c.id {
		return nil
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		c.logger.Debug("No handler installed, message ignored", "from", msg.From)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Message handler panicked", "from", msg.From, "panic", r)
		}
	}()

	if err := handler(context.Background(), msg); err != nil {
		c.logger.Error("Message handler failed", "from", msg.From, "error", err)
	}
	return nil
}

// handleFrame dispatches an inbound transport frame for a nested client
func (c *Client) handleFrame(frame []byte) {
	env, err := types.DecodeFrame(frame)
	if err != nil {
		c.logger.Debug("Ignoring unrecognized frame", "error", err)
		return
	}

	switch e := env.(type) {
	case *types.Message:
		c.dispatch(e)
	case *types.ExistsResponse:
		c.resolveProbe(e)
	default:
		// Registration traffic is hub-bound; a nested client ignores it.
	}
}
