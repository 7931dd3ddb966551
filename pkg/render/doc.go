// ABOUTME: Package documentation for the render scheduler
// ABOUTME: Explains surfaces, backends and the per-tick cycle

// Package render drives visualizer backends at display refresh rate.
//
// A Scheduler owns exactly one running backend. Every tick it resizes the
// surface if the display size changed, samples the latest analysis frame
// and the current artwork, renders and presents. The loop never waits for
// the network; it draws whatever frame and assets are ready, even none.
//
// Backends draw on a Surface: a Canvas (2D raster) or a TextSurface
// (terminal cells). Switching backends stops the loop and releases the
// outgoing backend before the incoming one is created.
//
//	sched := render.NewScheduler(render.Config{
//		Surface: render.NewTextSurface(80, 12, present),
//		Buffer:  client.Buffer(),
//		Assets:  manager,
//	})
//	sched.Start("spectrum")
//	defer sched.Stop()
package render
