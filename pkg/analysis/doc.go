// ABOUTME: Analysis data model package
// ABOUTME: Frames, tracks and the signal buffer shared by client and renderer
// Package analysis defines the dual-rate data model of the visualizer.
//
// Frames arrive at network cadence (about 30 Hz) and are written into a
// single-slot Buffer that the render loop samples at display cadence. Track
// metadata rides along on frames but consumers learn about it through
// discrete track-change notifications instead of polling every frame.
//
// Example:
//
//	buf := analysis.NewBuffer()
//	buf.Store(&analysis.Frame{Bins: bins, Peak: 0.4})
//	if f := buf.Load(); f != nil {
//	    draw(f.Bins)
//	}
package analysis
