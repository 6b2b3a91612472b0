//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Host describes the machine a package is built on.
type Host struct {
	// Platform is the operating system name, e.g. "linux".
	Platform string
	// Hostname is the network node name.
	Hostname string
}

// DetectHost gathers the platform and hostname recorded in the description file.
func DetectHost() (Host, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Host{}, fmt.Errorf("hostname: %w", err)
	}

	return Host{
		Platform: runtime.GOOS,
		Hostname: hostname,
	}, nil
}

// ExecutableExtension returns ".exe" on Windows and "" elsewhere.
func ExecutableExtension() string {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return ".exe"
	}

	return ""
}
