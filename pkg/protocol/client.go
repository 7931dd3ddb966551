// ABOUTME: Reconnecting WebSocket client for the analysis stream
// ABOUTME: Writes frames to the signal buffer and emits track-change notifications
package protocol

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultReconnectDelay is the fixed wait between a transport closing and
	// the next connection attempt. There is no backoff and no retry limit.
	DefaultReconnectDelay = 2 * time.Second

	// subscriberBuffer is the per-subscriber track notification queue depth
	subscriberBuffer = 16
)

// State is the connection state of the client
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds client configuration
type Config struct {
	// ServerAddr is a ws:// or wss:// URL, or a bare host:port
	ServerAddr string

	// ReconnectDelay defaults to DefaultReconnectDelay
	ReconnectDelay time.Duration

	// ConnectTimeout bounds the Connecting phase. Zero leaves it unbounded.
	ConnectTimeout time.Duration

	// Dialer defaults to websocket.DefaultDialer
	Dialer *websocket.Dialer

	// OnStateChange is called after every state transition, outside any lock
	OnStateChange func(State)
}

// ClientStats contains connection and delivery counters
type ClientStats struct {
	Attempts          uint64
	Connects          uint64
	Disconnects       uint64
	Frames            uint64
	Malformed         uint64
	TrackChanges      uint64
	PendingReconnects int
}

// Client maintains at most one live connection to the analysis stream
type Client struct {
	config Config
	url    string
	buffer *analysis.Buffer

	mu      sync.Mutex
	state   atomic.Int32
	conn    *websocket.Conn
	connID  string
	timer   *time.Timer
	pending int
	closed  bool

	// Last emitted track, only touched by the active reader goroutine
	lastKey     analysis.Key
	lastVersion int
	hasLast     bool

	subsMu  sync.RWMutex
	subs    map[int]*subscriber
	nextSub int

	attempts     atomic.Uint64
	connects     atomic.Uint64
	disconnects  atomic.Uint64
	frames       atomic.Uint64
	malformed    atomic.Uint64
	trackChanges atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscriber struct {
	ch   chan analysis.Track
	done chan struct{}
	once sync.Once
}

// NewClient creates a client that writes frames into buffer
func NewClient(config Config, buffer *analysis.Buffer) *Client {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if buffer == nil {
		buffer = analysis.NewBuffer()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config: config,
		url:    streamURL(config.ServerAddr),
		buffer: buffer,
		subs:   make(map[int]*subscriber),
		ctx:    ctx,
		cancel: cancel,
	}
}

// streamURL accepts either a full URL or a bare host:port
func streamURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	return u.String()
}

// Buffer returns the signal buffer the client writes to
func (c *Client) Buffer() *analysis.Buffer {
	return c.buffer
}

// URL returns the stream URL
func (c *Client) URL() string {
	return c.url
}

// State returns the current connection state
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect starts a connection attempt. It is a no-op while a transport is
// connecting or connected, and after Close. Calling it while a reconnect is
// pending skips the remaining delay.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.State() != Disconnected {
		c.mu.Unlock()
		return
	}

	c.stopTimerLocked()
	c.state.Store(int32(Connecting))
	c.connID = uuid.New().String()
	c.attempts.Add(1)

	id := c.connID
	c.wg.Add(1)
	c.mu.Unlock()

	c.notifyState(Connecting)
	go c.run(id)
}

// run dials and then reads until the transport goes away
func (c *Client) run(id string) {
	defer c.wg.Done()

	ctx := c.ctx
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	log.Printf("[%s] Connecting to %s", shortID(id), c.url)

	conn, _, err := c.config.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		log.Printf("[%s] Dial failed: %v", shortID(id), err)
		c.transportClosed()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state.Store(int32(Connected))
	c.connects.Add(1)
	c.mu.Unlock()

	c.notifyState(Connected)
	log.Printf("[%s] Connected to %s", shortID(id), c.url)

	c.readMessages(conn)
	conn.Close()

	c.transportClosed()
}

// readMessages reads frames until the transport errors or closes
func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Printf("Read error: %v", err)
			}
			return
		}

		c.handleMessage(messageType, data)
	}
}

// handleMessage decodes one frame into the buffer. Malformed frames are
// dropped without touching the buffer or the connection.
func (c *Client) handleMessage(messageType int, data []byte) {
	frame, err := DecodeFrame(messageType, data)
	if err != nil {
		n := c.malformed.Add(1)
		if n == 1 || n%100 == 0 {
			log.Printf("Dropping malformed frame (%d total): %v", n, err)
		}
		return
	}

	c.frames.Add(1)
	c.buffer.Store(frame)

	if frame.Track != nil && c.trackChanged(*frame.Track) {
		c.trackChanges.Add(1)
		log.Printf("Track: %s - %s (v%d, %s)",
			frame.Track.Artist, frame.Track.Title, frame.Track.EnrichmentVersion, frame.Track.Source)
		c.publish(*frame.Track)
	}
}

// trackChanged reports whether t must be announced: a new identity, or
// the same identity with a higher enrichment version
func (c *Client) trackChanged(t analysis.Track) bool {
	key := t.Key()
	switch {
	case !c.hasLast, key != c.lastKey:
	case t.EnrichmentVersion > c.lastVersion:
	default:
		return false
	}

	c.hasLast = true
	c.lastKey = key
	c.lastVersion = t.EnrichmentVersion
	return true
}

// transportClosed handles both clean closes and errors the same way:
// report Disconnected and schedule a reconnect after the fixed delay
func (c *Client) transportClosed() {
	c.mu.Lock()
	c.conn = nil
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.state.Store(int32(Disconnected))
	c.disconnects.Add(1)
	c.stopTimerLocked()
	c.pending = 1
	c.timer = time.AfterFunc(c.config.ReconnectDelay, c.reconnect)
	c.mu.Unlock()

	c.notifyState(Disconnected)
	log.Printf("Disconnected, retrying in %v", c.config.ReconnectDelay)
}

// reconnect is the timer callback
func (c *Client) reconnect() {
	c.mu.Lock()
	c.timer = nil
	c.pending = 0
	c.mu.Unlock()

	c.Connect()
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = 0
}

func (c *Client) notifyState(s State) {
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(s)
	}
}

// Subscribe registers for track-change notifications. Notifications are
// delivered in stream order; the returned function unsubscribes.
func (c *Client) Subscribe() (<-chan analysis.Track, func()) {
	sub := &subscriber{
		ch:   make(chan analysis.Track, subscriberBuffer),
		done: make(chan struct{}),
	}

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	c.subsMu.Unlock()

	unsubscribe := func() {
		sub.once.Do(func() {
			close(sub.done)
			c.subsMu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub.ch)
			}
			c.subsMu.Unlock()
		})
	}

	return sub.ch, unsubscribe
}

// publish delivers a track to every subscriber. A full subscriber queue
// blocks delivery rather than dropping a notification.
func (c *Client) publish(t analysis.Track) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	for _, sub := range c.subs {
		select {
		case sub.ch <- t:
		case <-sub.done:
		case <-c.ctx.Done():
			return
		}
	}
}

// Stats returns connection and delivery counters
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	return ClientStats{
		Attempts:          c.attempts.Load(),
		Connects:          c.connects.Load(),
		Disconnects:       c.disconnects.Load(),
		Frames:            c.frames.Load(),
		Malformed:         c.malformed.Load(),
		TrackChanges:      c.trackChanges.Load(),
		PendingReconnects: pending,
	}
}

// Close tears the client down: the pending reconnect is cancelled, an
// in-flight dial is aborted and the transport is closed. Subscriber
// channels are closed once every client goroutine has exited.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
	}
	prev := c.State()
	c.state.Store(int32(Disconnected))
	c.mu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.ch)
	}
	c.subsMu.Unlock()

	if prev != Disconnected {
		c.notifyState(Disconnected)
	}
	log.Printf("Connection closed")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
