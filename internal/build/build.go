// Package build holds build-time metadata injected via ldflags.
package build

var (
	// Slug is the command name used for config paths and CLI help.
	Slug = "drip"

	// Version is set at build time.
	Version = "0.0.0"
)
