// FILE: chatwisp/src/internal/version/version.go
package version

import "fmt"

var (
	// Set at link time: -ldflags "-X chatwisp/src/internal/version.Version=v1.2.0"
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Returns a formatted version string
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Short(), GitCommit, BuildTime)
}

// Returns just the version tag
func Short() string {
	return Version
}

// Returns the product token sent in User-Agent and Server headers
func UserAgent() string {
	return "ChatWisp/" + Short()
}
