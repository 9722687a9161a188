package realtime

import (
	"sync"

	"gatekeeper/cmd/internal/realtime/protocol"
)

// frame is one queued outbound envelope. final frames end the connection
// once written.
type frame struct {
	env   protocol.Envelope
	final bool
}

// Client is one connected subscriber.
//
// send is never closed; done signals shutdown so a concurrent publisher can't
// panic on a closed channel.
type Client struct {
	SessionID string
	UserID    string

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID, userID string, queue int) *Client {
	if queue < minSendQueue {
		queue = minSendQueue
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		send:      make(chan frame, queue),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue never blocks; a full queue drops the frame and reports false.
func (c *Client) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	case c.send <- f:
		return true
	default:
		return false
	}
}
