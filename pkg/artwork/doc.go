// ABOUTME: Package documentation for track artwork management
// ABOUTME: Describes the fetch, decode, upload and disposal pipeline

// Package artwork turns a track's image references into render-ready
// textures.
//
// A Manager follows the current track. Each reference is fetched and
// decoded once and cached; tracks that share a reference share the cached
// asset. When the track identity changes, the outgoing assets are kept
// for one more transition before they are destroyed, so a frame still
// drawing the previous track's artwork never sees a released texture.
//
//	fetcher, _ := artwork.NewFetcher("")
//	mgr := artwork.NewManager(artwork.ManagerConfig{Source: fetcher})
//	defer mgr.Dispose()
//
//	mgr.Update(track)
//	for _, a := range mgr.Assets().All() {
//		draw(a.Texture.Image())
//	}
package artwork
