// ABOUTME: Analysis stream protocol package
// ABOUTME: Defines the frame wire format and the reconnecting stream client
// Package protocol implements the client side of the analysis stream.
//
// The stream delivers frames (frequency bins, waveform, peak and optional
// track metadata) at roughly 30 Hz over a WebSocket. The Client keeps one
// logical connection alive forever, retrying after a fixed delay, writes
// every frame into an analysis.Buffer and announces track changes to
// subscribers.
//
// Example:
//
//	buf := analysis.NewBuffer()
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8765"}, buf)
//	tracks, unsubscribe := client.Subscribe()
//	defer unsubscribe()
//	client.Connect()
//	defer client.Close()
package protocol
