package transport

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/internal/logger"
)

// newTestListener creates a listener on a temp socket path
func newTestListener(t *testing.T) (*Listener, config.TransportConfig) {
	t.Helper()

	cfg := config.DefaultTransportConfig()
	cfg.SocketPath = filepath.Join(t.TempDir(), "bus.sock")

	log, err := logger.NewDefault()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	l, err := NewListener(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	return l, cfg
}

func TestListenerRequiresConnectCallback(t *testing.T) {
	l, _ := newTestListener(t)
	defer l.Close()

	if err := l.Listen(context.Background()); err == nil {
		t.Fatal("Expected error listening without connect callback")
	}
}

func TestSocketRoundTrip(t *testing.T) {
	l, cfg := newTestListener(t)
	defer l.Close()

	// Echo everything back to the sender.
	l.OnConnect(func(p Port) {
		p.SetReceiver(func(frame []byte) {
			p.Send(frame)
		})
	})

	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	port, err := Dial(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer port.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	port.SetReceiver(func(frame []byte) {
		mu.Lock()
		got = append(got, string(frame))
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})

	for _, msg := range []string{"one", "two", "three"} {
		if err := port.Send([]byte(msg)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Echoes did not arrive")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Errorf("Frame %d: got %s, want %s", i, got[i], want)
		}
	}
}

func TestSocketConnectionCount(t *testing.T) {
	l, cfg := newTestListener(t)
	defer l.Close()

	l.OnConnect(func(p Port) {
		p.SetReceiver(func([]byte) {})
	})
	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	p1, err := Dial(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	p1.SetReceiver(func([]byte) {})
	p2, err := Dial(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	p2.SetReceiver(func([]byte) {})

	waitFor(t, func() bool { return l.Stats().ActiveConns == 2 })

	p1.Close()
	waitFor(t, func() bool { return l.Stats().ActiveConns == 1 })

	p2.Close()
	waitFor(t, func() bool { return l.Stats().ActiveConns == 0 })
}

func TestSocketReceiverDetachAndReattach(t *testing.T) {
	l, cfg := newTestListener(t)
	defer l.Close()

	l.OnConnect(func(p Port) {
		p.SetReceiver(func(frame []byte) {
			p.Send(frame)
		})
	})
	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	port, err := Dial(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer port.Close()

	// Install, detach with nil, install again. The second install must not
	// panic and echoes must still reach the current receiver.
	port.SetReceiver(func([]byte) {})
	port.SetReceiver(nil)

	done := make(chan struct{})
	port.SetReceiver(func(frame []byte) {
		if string(frame) == "still-here" {
			close(done)
		}
	})

	if err := port.Send([]byte("still-here")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Echo did not arrive after reattach")
	}
}

func TestSocketMaxFrameSize(t *testing.T) {
	l, cfg := newTestListener(t)
	defer l.Close()

	l.OnConnect(func(p Port) {
		p.SetReceiver(func([]byte) {})
	})
	if err := l.Listen(context.Background()); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	small := cfg
	small.MaxFrameSize = 8
	port, err := Dial(small, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer port.Close()
	port.SetReceiver(func([]byte) {})

	if err := port.Send([]byte("this frame is longer than eight bytes")); err == nil {
		t.Fatal("Expected oversized frame to be rejected")
	}
}

// waitFor polls a condition with a deadline
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}
