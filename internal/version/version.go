// Package version carries build identification, populated via -ldflags.
package version

var (
	// Number is the current application version
	Number = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
)

// Version returns the human-readable version string.
func Version() string {
	return Number + " (" + GitSHA + ")"
}
