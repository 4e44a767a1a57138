package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/internal/logger"
	"github.com/pagebus/pagebus/pkg/broker"
	"github.com/pagebus/pagebus/pkg/client"
	"github.com/pagebus/pagebus/pkg/transport"
	"github.com/pagebus/pagebus/pkg/types"

	"github.com/stretchr/testify/require"
)

// newTestLogger creates a quiet logger for integration tests
func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err, "Failed to create logger")
	return log
}

// newTestBroker creates a broker with default routing config
func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	b, err := broker.New(config.DefaultBrokerConfig(), newTestLogger(t))
	require.NoError(t, err, "Failed to create broker")
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// probeConfig returns a fast existence-check config so probe-bound tests
// finish quickly
func probeConfig() config.ExistsCheckConfig {
	return config.ExistsCheckConfig{
		MaxAttempts:   3,
		Interval:      30 * time.Millisecond,
		ResponseGrace: 200 * time.Millisecond,
	}
}

// attachNested creates a nested client connected to the broker over an
// in-memory pipe, the way a deeper context reaches the hub directly
func attachNested(t *testing.T, b *broker.Broker, id types.ParticipantID) *client.Client {
	t.Helper()
	near, far := transport.NewPipe(config.DefaultTransportConfig())
	b.Bind(far)
	c, err := client.NewNested(id, near, probeConfig(), newTestLogger(t))
	require.NoError(t, err, "Failed to create nested client %s", id)
	t.Cleanup(func() { _ = near.Close() })
	return c
}

// mailbox collects delivered messages for later assertions
type mailbox struct {
	mu   sync.Mutex
	msgs []*types.Message
}

func (m *mailbox) attach(c *client.Client) {
	c.OnMessage(func(_ context.Context, msg *types.Message) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.msgs = append(m.msgs, msg)
		return nil
	})
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *mailbox) last() *types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs) == 0 {
		return nil
	}
	return m.msgs[len(m.msgs)-1]
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
