package version

// Version is overridden at build time:
//
//	go build -ldflags="-X 'github.com/dkeye/Beam/internal/version.Version=v1.0.0'"
var Version = "dev"
