package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/internal/logger"
	"github.com/pagebus/pagebus/pkg/transport"
	"github.com/pagebus/pagebus/pkg/types"
)

// DeliveryTarget is where routed messages for one participant go
type DeliveryTarget interface {
	// Deliver hands an addressed message to the participant
	Deliver(msg *types.Message) error
}

// LocalFunc adapts an in-process callback into a DeliveryTarget
type LocalFunc func(msg *types.Message) error

// Deliver implements DeliveryTarget
func (f LocalFunc) Deliver(msg *types.Message) error {
	return f(msg)
}

// RemoteTarget delivers messages to a participant reachable over a
// transport port
type RemoteTarget struct {
	Port transport.Port
}

// Deliver implements DeliveryTarget
func (r *RemoteTarget) Deliver(msg *types.Message) error {
	frame, err := types.EncodeFrame(msg)
	if err != nil {
		return err
	}
	return r.Port.Send(frame)
}

// Observer receives every message the broker attempts to route, before the
// routing attempt and independent of its outcome
type Observer func(msg *types.Message)

// Broker owns the subscriber registry and routes addressed messages
type Broker struct {
	mu       sync.RWMutex
	registry map[types.ParticipantID]DeliveryTarget
	observer Observer
	logger   *logger.Logger
	cfg      config.BrokerConfig
	closed   bool
	wg       sync.WaitGroup
	closeCh  chan struct{}
	stats    Stats
}

// New creates a new broker
func New(cfg config.BrokerConfig, log *logger.Logger) (*Broker, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	b := &Broker{
		registry: make(map[types.ParticipantID]DeliveryTarget),
		logger:   log.With("component", "broker"),
		cfg:      cfg,
		closeCh:  make(chan struct{}),
	}

	b.logger.Info("Broker initialized",
		"retry_unregistered", cfg.RetryUnregistered,
		"retry_attempts", cfg.RetryAttempts,
		"retry_interval", cfg.RetryInterval.String())

	return b, nil
}

// Register adds or replaces the delivery target for a participant. The
// upsert is unconditional: a new registration for an id silently supersedes
// the previous one, and messages routed afterwards reach only the new
// target.
func (b *Broker) Register(id types.ParticipantID, target DeliveryTarget) error {
	if id.IsEmpty() {
		return types.NewError(types.ErrCodeInvalidArgument, "participant id cannot be empty")
	}
	if target == nil {
		return types.NewError(types.ErrCodeInvalidArgument, "delivery target cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return types.NewError(types.ErrCodeUnavailable, "broker is closed")
	}

	_, replaced := b.registry[id]
	b.registry[id] = target

	b.logger.Debug("Participant registered", "participant_id", id, "replaced", replaced)
	return nil
}

// Unregister removes a participant's registration. Removing an id that is
// not registered is a no-op.
func (b *Broker) Unregister(id types.ParticipantID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.registry[id]; exists {
		delete(b.registry, id)
		b.logger.Debug("Participant unregistered", "participant_id", id)
	}
}

// Exists reports whether a participant is registered right now
func (b *Broker) Exists(id types.ParticipantID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.registry[id]
	return exists
}

// SetObserver installs the routing observer, replacing any previous one.
// At most one observer is notified; pass nil to remove it.
func (b *Broker) SetObserver(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = fn
}

// Route delivers an addressed message to its registered target. Malformed
// envelopes and messages for unregistered ids are dropped; neither is an
// error to the caller, delivery here is fire-and-forget.
func (b *Broker) Route(msg *types.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return types.NewError(types.ErrCodeUnavailable, "broker is closed")
	}
	observer := b.observer
	b.mu.RUnlock()

	if !msg.Valid() {
		b.bumpDropped()
		b.logger.Debug("Dropping malformed envelope")
		return nil
	}

	if observer != nil {
		b.notifyObserver(observer, msg)
	}

	b.mu.RLock()
	target, exists := b.registry[msg.To]
	b.mu.RUnlock()

	if !exists {
		if b.cfg.RetryUnregistered {
			b.parkForRetry(msg)
			return nil
		}
		b.bumpDropped()
		b.logger.Debug("No registration for target, dropping message",
			"from", msg.From, "to", msg.To)
		return nil
	}

	b.deliver(target, msg)
	return nil
}

// notifyObserver calls the observer with panic isolation
func (b *Broker) notifyObserver(observer Observer, msg *types.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Observer panicked", "panic", r)
		}
	}()
	observer(msg)
}

// deliver invokes a target with error and panic isolation. Target failures
// never reach the sender; the remote side of a failed delivery learns
// nothing.
func (b *Broker) deliver(target DeliveryTarget, msg *types.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.bumpDropped()
			b.logger.Error("Delivery target panicked",
				"from", msg.From, "to", msg.To, "panic", r)
		}
	}()

	if err := target.Deliver(msg); err != nil {
		b.bumpDropped()
		b.logger.Error("Delivery failed",
			"from", msg.From, "to", msg.To, "error", err)
		return
	}

	b.mu.Lock()
	b.stats.MessagesRouted++
	b.mu.Unlock()

	b.logger.Debug("Message routed", "from", msg.From, "to", msg.To)
}

// parkForRetry holds an undeliverable message in a bounded timer task and
// re-routes it until the target registers or attempts run out
func (b *Broker) parkForRetry(msg *types.Message) {
	b.mu.Lock()
	b.stats.MessagesParked++
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		timer := time.NewTimer(b.cfg.RetryInterval)
		defer timer.Stop()

		for attempt := 0; attempt < b.cfg.RetryAttempts; attempt++ {
			select {
			case <-timer.C:
			case <-b.closeCh:
				return
			}

			b.mu.RLock()
			target, exists := b.registry[msg.To]
			b.mu.RUnlock()

			if exists {
				b.deliver(target, msg)
				return
			}
			timer.Reset(b.cfg.RetryInterval)
		}

		b.bumpDropped()
		b.logger.Debug("Retry attempts exhausted, dropping message",
			"from", msg.From, "to", msg.To, "attempts", b.cfg.RetryAttempts)
	}()
}

// Bind wires a transport port into the broker: every frame arriving on the
// port is dispatched through HandleInbound with the port as its origin.
func (b *Broker) Bind(port transport.Port) {
	port.SetReceiver(func(frame []byte) {
		b.HandleInbound(port, frame)
	})
}

// HandleInbound dispatches a raw frame from the shared channel by its
// shape. The channel is unauthenticated and may carry foreign traffic, so
// frames matching no known envelope are dropped without complaint.
func (b *Broker) HandleInbound(from transport.Port, frame []byte) {
	env, err := types.DecodeFrame(frame)
	if err != nil {
		b.bumpIgnored()
		b.logger.Debug("Ignoring unrecognized frame", "error", err)
		return
	}

	switch e := env.(type) {
	case *types.Registration:
		switch e.Kind {
		case types.KindRegister:
			if err := b.Register(e.ParticipantID, &RemoteTarget{Port: from}); err != nil {
				b.logger.Warn("Relayed registration rejected",
					"participant_id", e.ParticipantID, "error", err)
			}
		case types.KindUnregister:
			b.Unregister(e.ParticipantID)
		}

	case *types.ExistsCheck:
		// Answered synchronously so a probe response is always
		// producible while the hub is alive.
		resp, err := types.EncodeFrame(types.NewExistsResponse(e.RequestID, b.Exists(e.ClientID)))
		if err != nil {
			b.logger.Error("Failed to encode exists response", "error", err)
			return
		}
		if err := from.Send(resp); err != nil {
			b.logger.Debug("Failed to answer exists check",
				"request_id", e.RequestID, "error", err)
		}

	case *types.Message:
		if err := b.Route(e); err != nil {
			b.logger.Debug("Inbound route failed", "error", err)
		}

	default:
		b.bumpIgnored()
	}
}

func (b *Broker) bumpDropped() {
	b.mu.Lock()
	b.stats.MessagesDropped++
	b.mu.Unlock()
}

func (b *Broker) bumpIgnored() {
	b.mu.Lock()
	b.stats.FramesIgnored++
	b.mu.Unlock()
}

// Close shuts down the broker and waits for pending retry tasks
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "broker already closed")
	}
	b.closed = true
	b.mu.Unlock()

	close(b.closeCh)
	b.wg.Wait()

	b.logger.Info("Broker closed")
	return nil
}

// Stats returns broker statistics
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := b.stats
	stats.RegisteredParticipants = len(b.registry)
	return stats
}

// String returns a string representation of the broker
func (b *Broker) String() string {
	stats := b.Stats()
	return fmt.Sprintf("Broker{Registered: %d, Routed: %d, Dropped: %d}",
		stats.RegisteredParticipants, stats.MessagesRouted, stats.MessagesDropped)
}

// Stats represents broker statistics
type Stats struct {
	RegisteredParticipants int   `json:"registered_participants"`
	MessagesRouted         int64 `json:"messages_routed"`
	MessagesDropped        int64 `json:"messages_dropped"`
	MessagesParked         int64 `json:"messages_parked"`
	FramesIgnored          int64 `json:"frames_ignored"`
}

// String returns a string representation of the stats
func (s Stats) String() string {
	return fmt.Sprintf("Stats{Registered: %d, Routed: %d, Dropped: %d, Parked: %d, Ignored: %d}",
		s.RegisteredParticipants, s.MessagesRouted, s.MessagesDropped,
		s.MessagesParked, s.FramesIgnored)
}

// global broker instance
var (
	globalBroker     *Broker
	globalBrokerOnce sync.Once
)

// InitGlobal initializes the global broker for the hub context
func InitGlobal(cfg config.BrokerConfig, log *logger.Logger) error {
	var initErr error
	globalBrokerOnce.Do(func() {
		b, err := New(cfg, log)
		if err != nil {
			initErr = err
			return
		}
		globalBroker = b
	})
	return initErr
}

// Global returns the global broker instance, creating it lazily with
// defaults if InitGlobal was never called
func Global() *Broker {
	if globalBroker == nil {
		b, err := New(config.DefaultBrokerConfig(), nil)
		if err != nil {
			panic(fmt.Sprintf("failed to create global broker: %v", err))
		}
		globalBroker = b
	}
	return globalBroker
}

// SetGlobal sets the global broker instance
func SetGlobal(b *Broker) {
	globalBroker = b
	globalBrokerOnce = sync.Once{}
}
