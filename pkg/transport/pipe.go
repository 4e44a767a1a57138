package transport

import (
	"sync"

	"github.com/pagebus/pagebus/internal/config"
	"github.com/pagebus/pagebus/pkg/types"
)

// PipeEnd is one endpoint of an in-memory transport channel. Each end owns
// an inbox and a delivery goroutine, so even a send between two ends in the
// same goroutine is delivered asynchronously, in order.
type PipeEnd struct {
	mu          sync.RWMutex
	peer        *PipeEnd
	inbox       chan []byte
	receiver    func([]byte)
	ready       chan struct{} // closed once the first receiver is installed
	readyClosed bool
	closeCh     chan struct{}
	closed      bool
	wg          sync.WaitGroup
}

// NewPipe creates a linked pair of in-memory transport endpoints
func NewPipe(cfg config.TransportConfig) (*PipeEnd, *PipeEnd) {
	a := newPipeEnd(cfg.InboxSize)
	b := newPipeEnd(cfg.InboxSize)
	a.peer = b
	b.peer = a

	a.wg.Add(1)
	go a.deliverLoop()
	b.wg.Add(1)
	go b.deliverLoop()

	return a, b
}

func newPipeEnd(inboxSize int) *PipeEnd {
	if inboxSize <= 0 {
		inboxSize = config.DefaultInboxSize
	}
	return &PipeEnd{
		inbox:   make(chan []byte, inboxSize),
		ready:   make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

// Send queues a frame into the far end's inbox
func (p *PipeEnd) Send(frame []byte) error {
	p.mu.RLock()
	closed := p.closed
	peer := p.peer
	p.mu.RUnlock()

	if closed {
		return types.NewError(types.ErrCodeUnavailable, "pipe end is closed")
	}

	// Copy so the caller can reuse its buffer after Send returns.
	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case peer.inbox <- buf:
		return nil
	default:
		return types.NewError(types.ErrCodeUnavailable, "peer inbox full")
	}
}

// SetReceiver installs the inbound frame callback, replacing any previous one
func (p *PipeEnd) SetReceiver(fn func(frame []byte)) {
	p.mu.Lock()
	p.receiver = fn
	signal := fn != nil && !p.readyClosed
	if signal {
		p.readyClosed = true
	}
	p.mu.Unlock()

	if signal {
		close(p.ready)
	}
}

// deliverLoop hands inbox frames to the receiver, one at a time in arrival
// order. It waits for the first receiver before delivering anything so that
// frames sent between construction and SetReceiver are held, not lost.
func (p *PipeEnd) deliverLoop() {
	defer p.wg.Done()

	select {
	case <-p.ready:
	case <-p.closeCh:
		return
	}

	for {
		select {
		case frame := <-p.inbox:
			p.mu.RLock()
			receiver := p.receiver
			p.mu.RUnlock()
			if receiver != nil {
				receiver(frame)
			}
		case <-p.closeCh:
			return
		}
	}
}

// Close tears down this end. The peer end stays usable for frames already
// in flight toward it.
func (p *PipeEnd) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "pipe end already closed")
	}
	p.closed = true
	p.mu.Unlock()

	close(p.closeCh)
	p.wg.Wait()
	return nil
}
