package stream

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Andrey79999/kanban/domain"
)

const (
	// DefaultSendTimeout bounds how long a delivery may stay blocked on a
	// full connection buffer before the connection is treated as dead.
	DefaultSendTimeout = 5 * time.Second

	connBuffer = 16
)

// Subscription is one client's view of a registered connection: a frame
// channel to read and a done channel closed when the hub drops the
// connection, so the reader can tear its transport down promptly.
type Subscription struct {
	id     string
	frames chan []byte
	done   chan struct{}
}

// Frames delivers encoded wire messages in broadcast order. The channel
// is never closed; readers stop on Done or their own transport teardown.
func (s *Subscription) Frames() <-chan []byte { return s.frames }

// Done is closed once the connection is unregistered, whether by the
// reader itself or because the hub dropped it as unresponsive.
func (s *Subscription) Done() <-chan struct{} { return s.done }

type conn struct {
	id        string
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	created   time.Time

	// mu guards the overflow queue. While a drain is in flight every new
	// frame is appended behind it, so one connection's frames always
	// arrive in broadcast order.
	mu      sync.Mutex
	pending [][]byte
	sending bool
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub tracks live client connections and fans committed events out to
// them. It holds no durable state; after a restart clients reconnect and
// resynchronize by re-fetching the task list.
type Hub struct {
	logger      *log.Logger
	sendTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*conn
}

// NewHub creates an empty hub. A non-positive sendTimeout falls back to
// DefaultSendTimeout.
func NewHub(logger *log.Logger, sendTimeout time.Duration) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Hub{
		logger:      logger,
		sendTimeout: sendTimeout,
		conns:       make(map[string]*conn),
	}
}

// Register adds a connection under the given id. An id that is already
// live is rejected with domain.ErrDuplicateClient; the original
// registration stays intact.
func (h *Hub) Register(id string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; ok {
		return nil, domain.ErrDuplicateClient
	}
	c := &conn{
		id:      id,
		frames:  make(chan []byte, connBuffer),
		done:    make(chan struct{}),
		created: time.Now(),
	}
	h.conns[id] = c
	h.logger.WithFields(log.Fields{"client": id, "connections": len(h.conns)}).Debug("stream client registered")
	return &Subscription{id: id, frames: c.frames, done: c.done}, nil
}

// Unregister removes a connection and closes its done channel. Removing
// an absent id is a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
		h.logger.WithFields(log.Fields{"client": id, "connections": len(h.conns)}).Debug("stream client unregistered")
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast encodes ev once and delivers it to every registered connection
// except excludeID. Delivery is at-most-once and per-connection ordered:
// a connection sees frames in the order Broadcast was called. A connection
// that cannot accept a frame within the send timeout is dropped from the
// registry, and one failed recipient never affects the others. The member
// snapshot is taken under the lock; sends happen outside it.
func (h *Hub) Broadcast(ev domain.Event, excludeID string) {
	data, err := EncodeEvent(ev)
	if err != nil {
		h.logger.WithField("kind", ev.Kind).Errorf("encode event: %v", err)
		return
	}

	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for id, c := range h.conns {
		if id == excludeID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.send(c, data)
	}
}

// send routes one frame to a connection. The fast path hands the frame
// straight to the buffer, but only while no drain is in flight; otherwise
// the frame joins the overflow queue behind the frames already waiting,
// which keeps delivery in broadcast order.
func (h *Hub) send(c *conn, data []byte) {
	c.mu.Lock()
	if c.sending {
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		return
	}
	select {
	case c.frames <- data:
		c.mu.Unlock()
	default:
		c.sending = true
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		go h.drain(c)
	}
}

// drain pushes the overflow queue into the connection buffer, oldest
// first. A frame that stays blocked past the send timeout marks the
// connection dead: it is removed from the registry and its queue is
// discarded, with no retry of the missed frames.
func (h *Hub) drain(c *conn) {
	timer := time.NewTimer(h.sendTimeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.sending = false
			c.mu.Unlock()
			return
		}
		data := c.pending[0]
		c.mu.Unlock()

		select {
		case c.frames <- data:
			c.mu.Lock()
			c.pending = c.pending[1:]
			c.mu.Unlock()
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(h.sendTimeout)
		case <-timer.C:
			h.logger.WithField("client", c.id).Warn("dropping unresponsive stream connection")
			h.remove(c)
			c.mu.Lock()
			c.pending = nil
			c.sending = false
			c.mu.Unlock()
			return
		}
	}
}

// remove drops c from the registry only while it is still the registered
// connection for its id, so a reconnect under the same id is never evicted
// by a stale drop. c's done channel is closed either way.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	c.close()
}
