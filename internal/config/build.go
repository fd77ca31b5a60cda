package config

// Set at link time, for example:
//
//	go build -ldflags "-X rollcall/internal/config.version=1.2.0 \
//	    -X rollcall/internal/config.commit=$(git rev-parse --short HEAD)" ./cmd/rollcall
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
