// ABOUTME: Development analysis stream server
// ABOUTME: Broadcasts synthetic frames over WebSocket and serves a play history
package mockstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-vis/internal/discovery"
	"github.com/Resonate-Protocol/resonate-vis/pkg/protocol"
)

const sendQueue = 16

// Config holds server configuration
type Config struct {
	Port          int
	Name          string
	FPS           int
	Binary        bool // MessagePack frames instead of JSON
	EnableMDNS    bool
	TrackDuration time.Duration
	EnrichAfter   time.Duration
}

// Server streams frames to every connected client
type Server struct {
	config   Config
	source   *ToneSource
	upgrader websocket.Upgrader

	clients   map[string]*client
	clientsMu sync.RWMutex

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// client is one connected visualizer
type client struct {
	id   string
	conn *websocket.Conn
	send chan message
}

type message struct {
	kind int
	data []byte
}

// New creates a server instance
func New(config Config) *Server {
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.Name == "" {
		config.Name = "resonate-mock-stream"
	}

	return &Server{
		config: config,
		source: NewToneSource(nil, config.TrackDuration, config.EnrichAfter),
		upgrader: websocket.Upgrader{
			// Local development only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Handler serves the stream on / and the play history on /history
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Run serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.config.EnableMDNS {
		adv, err := discovery.Advertise(s.config.Name, s.config.Port, "/")
		if err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			defer adv.Shutdown()
		}
	}

	go s.Stream(ctx)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Mock stream listening on %s (%d fps)", addr, s.config.FPS)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		log.Printf("Server shutting down...")
	case err := <-errChan:
		serverErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	s.closeAll()

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stream broadcasts one frame per tick until ctx is done
func (s *Server) Stream(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.config.FPS))
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			msg, err := s.encode(s.source.Next(now))
			if err != nil {
				log.Printf("Failed to encode frame: %v", err)
				continue
			}
			if cur := s.source.Current(); cur != last {
				log.Printf("Now streaming: %s", cur)
				last = cur
			}
			s.broadcast(msg)
		}
	}
}

func (s *Server) encode(wire *protocol.WireFrame) (message, error) {
	if s.config.Binary {
		data, err := protocol.EncodeMsgpack(wire)
		return message{kind: websocket.BinaryMessage, data: data}, err
	}
	data, err := json.Marshal(wire)
	return message{kind: websocket.TextMessage, data: data}, err
}

// broadcast queues msg for every client; slow clients drop frames
func (s *Server) broadcast(msg message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		select {
		case c.send <- msg:
			s.sent.Add(1)
		default:
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				log.Printf("Dropped %d frames for slow clients", n)
			}
		}
	}
}

// handleWebSocket registers a client and holds it until it goes away
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan message, sendQueue),
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	log.Printf("Client connected from %s (%s)", r.RemoteAddr, c.id[:8])

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.clientWriter(c)
	}()

	// Drain reads so close frames are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.remove(c)
	<-done
	log.Printf("Client disconnected: %s", c.id[:8])
}

// clientWriter writes queued frames to one client
func (s *Server) clientWriter(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
			return
		}
	}
}

func (s *Server) remove(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
}

func (s *Server) closeAll() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for id, c := range s.clients {
		delete(s.clients, id)
		close(c.send)
	}
}

// handleHistory serves the plays so far, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.History()); err != nil {
		log.Printf("Failed to write history: %v", err)
	}
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
