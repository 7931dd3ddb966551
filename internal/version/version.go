// ABOUTME: Version and product identity for the visualizer client
// ABOUTME: Version can be overridden at build time with -ldflags
package version

// Version is set with -ldflags "-X github.com/Resonate-Protocol/resonate-vis/internal/version.Version=..."
var Version = "0.1.0"

const (
	Product      = "Resonate Visualizer"
	Manufacturer = "Resonate"
)

// String returns the product and version for banners and user agents
func String() string {
	return Product + " " + Version
}
