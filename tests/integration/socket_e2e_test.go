package integration

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/pkg/client"
	"github.com/pagebus/pagebus/pkg/transport"
	"github.com/pagebus/pagebus/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHub brings up a broker listening on a unix socket in a temp dir and
// returns the transport config participants dial with.
func startHub(t *testing.T) config.TransportConfig {
	t.Helper()

	cfg := config.DefaultTransportConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "pagebus.sock")

	b := newTestBroker(t)
	ln, err := transport.NewListener(cfg, newTestLogger(t))
	require.NoError(t, err, "Failed to create listener")
	ln.OnConnect(func(p transport.Port) { b.Bind(p) })
	require.NoError(t, ln.Listen(context.Background()), "Failed to listen")
	t.Cleanup(func() { _ = ln.Close() })

	return cfg
}

// dialNested dials the hub socket and attaches a nested client over it
func dialNested(t *testing.T, cfg config.TransportConfig, id types.ParticipantID) *client.Client {
	t.Helper()
	port, err := transport.Dial(cfg, newTestLogger(t))
	require.NoError(t, err, "Failed to dial hub socket")
	t.Cleanup(func() { _ = port.Close() })

	c, err := client.NewNested(id, port, probeConfig(), newTestLogger(t))
	require.NoError(t, err, "Failed to create nested client %s", id)
	return c
}

// TestSocketE2EWorkflow runs the full participant lifecycle over the unix
// socket transport: two dialed contexts register, probe for each other,
// exchange messages and unregister.
func TestSocketE2EWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping socket E2E test in short mode")
	}

	ctx := context.Background()
	cfg := startHub(t)

	t.Log("=== Step 1: Dialing two participants ===")

	alpha := dialNested(t, cfg, "alpha")
	alphaBox := &mailbox{}
	alphaBox.attach(alpha)

	beta := dialNested(t, cfg, "beta")
	betaBox := &mailbox{}
	betaBox.attach(beta)

	t.Log("=== Step 2: Probing across the socket ===")

	// Registration frames race the probe, so lean on the probe's own retry
	// loop rather than waiting out a fixed delay.
	require.True(t, alpha.CheckClientExists(ctx, "beta", 10, 50*time.Millisecond),
		"alpha should find beta through the hub")
	require.True(t, beta.CheckClientExists(ctx, "alpha", 10, 50*time.Millisecond),
		"beta should find alpha through the hub")
	assert.False(t, alpha.CheckClientExists(ctx, "gamma", 2, 30*time.Millisecond),
		"Probe for an absent participant should fail")

	t.Log("=== Step 3: Exchanging messages ===")

	require.NoError(t, alpha.SendMessage(ctx, "beta", map[string]string{"op": "greet"}))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return betaBox.count() == 1 }),
		"beta should receive alpha's message")

	got := betaBox.last()
	assert.Equal(t, types.ParticipantID("alpha"), got.From)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "greet", payload["op"])

	require.NoError(t, beta.SendMessage(ctx, "alpha", map[string]string{"op": "reply"}))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return alphaBox.count() == 1 }),
		"alpha should receive the reply")

	t.Log("=== Step 4: Unregistering ===")

	require.NoError(t, beta.Unregister())
	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return !alpha.CheckClientExists(ctx, "beta", 1, 30*time.Millisecond)
	}), "beta should disappear from the registry")

	// Sends to the departed participant vanish quietly.
	before := betaBox.count()
	require.NoError(t, alpha.SendMessage(ctx, "beta", map[string]string{"op": "late"}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, betaBox.count())
}

// TestSocketE2EForeignTraffic writes junk onto the shared socket and checks
// that the hub shrugs it off while real traffic keeps flowing.
func TestSocketE2EForeignTraffic(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping socket E2E test in short mode")
	}

	ctx := context.Background()
	cfg := startHub(t)

	alpha := dialNested(t, cfg, "alpha")
	alphaBox := &mailbox{}
	alphaBox.attach(alpha)

	// A foreign connection that never registers and speaks another protocol.
	noisy, err := transport.Dial(cfg, newTestLogger(t))
	require.NoError(t, err)
	noisy.SetReceiver(func([]byte) {})
	t.Cleanup(func() { _ = noisy.Close() })

	require.NoError(t, noisy.Send([]byte(`{"someOtherProtocol":true}`)))
	require.NoError(t, noisy.Send([]byte(`{"kind":"MYSTERY","x":1}`)))

	require.True(t, alpha.CheckClientExists(ctx, "alpha", 10, 50*time.Millisecond),
		"alpha's own registration should land despite the noise")

	require.NoError(t, alpha.SendMessage(ctx, "alpha", map[string]string{"op": "self"}))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return alphaBox.count() == 1 }),
		"Real traffic should keep flowing")
}

// TestSocketE2EConnectionLimit verifies the hub enforces its connection cap
func TestSocketE2EConnectionLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping socket E2E test in short mode")
	}

	cfg := config.DefaultTransportConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "pagebus.sock")
	cfg.MaxConnections = 1

	b := newTestBroker(t)
	ln, err := transport.NewListener(cfg, newTestLogger(t))
	require.NoError(t, err)
	ln.OnConnect(func(p transport.Port) { b.Bind(p) })
	require.NoError(t, ln.Listen(context.Background()))
	t.Cleanup(func() { _ = ln.Close() })

	first := dialNested(t, cfg, "first")
	require.True(t, first.CheckClientExists(context.Background(), "first", 10, 50*time.Millisecond))
	assert.Equal(t, 1, ln.Stats().ActiveConns)

	// The second dial succeeds at the OS level but the hub drops it, so its
	// registration never lands.
	port, err := transport.Dial(cfg, newTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = port.Close() })
	second, err := client.NewNested("second", port, probeConfig(), newTestLogger(t))
	require.NoError(t, err)

	assert.False(t, second.CheckClientExists(context.Background(), "second", 3, 30*time.Millisecond),
		"Rejected connection should never reach the registry")
	assert.Equal(t, 1, ln.Stats().ActiveConns)
}
