// ABOUTME: Publishes now-playing track changes to an MQTT broker
// ABOUTME: Each change is a retained JSON message so late subscribers see the current track
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
)

// Config holds MQTT publisher settings
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Payload is the JSON body published for each track change
type Payload struct {
	Artist              string   `json:"artist"`
	Title               string   `json:"title"`
	Album               string   `json:"album,omitempty"`
	Source              string   `json:"source,omitempty"`
	AlbumArt            string   `json:"album_art,omitempty"`
	Genres              []string `json:"genres,omitempty"`
	Colors              []string `json:"colors,omitempty"`
	PreferredVisualizer string   `json:"preferred_visualizer,omitempty"`
	EnrichmentVersion   int      `json:"enrichment_version"`
	Timestamp           int64    `json:"timestamp"`
}

// NewPayload flattens a track into its published form
func NewPayload(t analysis.Track, now time.Time) Payload {
	p := Payload{
		Artist:              t.Artist,
		Title:               t.Title,
		Album:               t.Album,
		Source:              string(t.Source),
		Genres:              t.Genres,
		PreferredVisualizer: t.PreferredVisualizer,
		EnrichmentVersion:   t.EnrichmentVersion,
		Timestamp:           now.UnixMilli(),
	}
	if t.AlbumArtRef != nil {
		p.AlbumArt = *t.AlbumArtRef
	}
	for _, c := range t.DominantColors {
		p.Colors = append(p.Colors, fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
	}
	return p
}

// publisher is the slice of mqtt.Client used for sending
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Publisher sends track changes to a broker
type Publisher struct {
	config Config
	client mqtt.Client
	pub    publisher

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// New creates a publisher; call Connect before Run
func New(config Config) *Publisher {
	if config.ClientID == "" {
		config.ClientID = "resonate-vis"
	}
	return &Publisher{config: config}
}

// Connect establishes the broker connection with automatic reconnects
func (p *Publisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		log.Printf("MQTT connected to %s", p.config.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		log.Printf("MQTT connection lost, will auto-reconnect: %v", err)
	}

	p.client = mqtt.NewClient(opts)
	p.pub = p.client

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Publish sends one retained track message
func (p *Publisher) Publish(t analysis.Track) error {
	if p.pub == nil {
		return fmt.Errorf("mqtt not connected")
	}

	body, err := json.Marshal(NewPayload(t, time.Now()))
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := p.pub.Publish(p.config.Topic, p.config.QoS, true, body)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// Run publishes every track received until the channel closes or ctx ends
func (p *Publisher) Run(ctx context.Context, tracks <-chan analysis.Track) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tracks:
			if !ok {
				return
			}
			if err := p.Publish(t); err != nil {
				log.Printf("MQTT publish of %s failed: %v", t.Key(), err)
			}
		}
	}
}

// Disconnect closes the broker connection
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Printf("MQTT disconnected")
	}
	p.setConnected(false)
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
