package client

import (
	"context"
	"time"

	"github.com/pagebus/pagebus/pkg/types"
)

// CheckClientExists polls the hub registry for a participant, retrying
// until it is seen or attempts run out. It resolves false on exhaustion,
// timeout or cancellation, never with an error: existence checking is how
// senders build confidence before fire-and-forget delivery, and a probe
// that cannot complete means the target cannot be relied on either way.
//
// Zero maxAttempts or interval fall back to the client's configured
// defaults. Each attempt uses a freshly generated request id.
func (c *Client) CheckClientExists(ctx context.Context, id types.ParticipantID, maxAttempts int, interval time.Duration) bool {
	if id.IsEmpty() {
		return false
	}
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	if interval <= 0 {
		interval = c.cfg.Interval
	}

	probeCtx, cancel, token, ok := c.trackProbe(ctx)
	if !ok {
		return false
	}
	defer c.releaseProbe(token, cancel)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var exists, timedOut bool
		if c.brk != nil {
			// Hub context: the registry is local, consult it directly.
			exists = c.brk.Exists(id)
		} else {
			exists, timedOut = c.probeRemote(probeCtx, id, interval)
		}

		if exists {
			return true
		}
		if timedOut {
			// The hub answers probes synchronously; a missing response
			// means the hub itself is gone, not that the target is
			// unregistered. Terminal, no further attempts.
			return false
		}
		if attempt == maxAttempts-1 {
			return false
		}

		select {
		case <-time.After(interval):
		case <-probeCtx.Done():
			return false
		}
	}
	return false
}

// trackProbe registers a cancelable probe context so Unregister can abort
// outstanding probes instead of leaving their timers running
func (c *Client) trackProbe(ctx context.Context) (context.Context, context.CancelFunc, uint64, bool) {
	probeCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unregistered {
		cancel()
		return nil, nil, 0, false
	}
	token := c.nextProbe
	c.nextProbe++
	c.probeCancels[token] = cancel
	return probeCtx, cancel, token, true
}

// releaseProbe drops a finished probe's cancel registration
func (c *Client) releaseProbe(token uint64, cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	delete(c.probeCancels, token)
	c.mu.Unlock()
}

// probeRemote performs one existence-check round trip through the hub.
// The wait is bounded by interval plus the configured response grace: the
// hub answers probes synchronously, so a missing response means the hub
// itself is gone or the channel was torn down mid-probe, and the waiter is
// discarded rather than left dangling. A fired timeout is reported as
// timedOut so the caller can treat it as terminal rather than retry
// against a hub that is not answering.
func (c *Client) probeRemote(ctx context.Context, id types.ParticipantID, interval time.Duration) (exists, timedOut bool) {
	check := types.NewExistsCheck(id, c.id)

	result := make(chan bool, 1)
	c.mu.Lock()
	if c.unregistered {
		c.mu.Unlock()
		return false, false
	}
	c.pending[check.RequestID] = result
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, check.RequestID)
		c.mu.Unlock()
	}()

	frame, err := types.EncodeFrame(check)
	if err != nil {
		return false, false
	}
	if err := c.port.Send(frame); err != nil {
		c.logger.Debug("Failed to send exists check",
			"request_id", check.RequestID, "error", err)
		return false, false
	}

	timer := time.NewTimer(interval + c.cfg.ResponseGrace)
	defer timer.Stop()

	select {
	case exists := <-result:
		return exists, false
	case <-timer.C:
		c.logger.Debug("Exists check timed out",
			"request_id", check.RequestID, "client_id", id)
		return false, true
	case <-ctx.Done():
		return false, false
	}
}

// resolveProbe completes the waiter correlated with an inbound response.
// Responses with no waiter (late arrivals after a defensive timeout) are
// dropped.
func (c *Client) resolveProbe(resp *types.ExistsResponse) {
	c.mu.Lock()
	waiter, exists := c.pending[resp.RequestID]
	if exists {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if exists {
		waiter <- resp.Exists
	}
}
