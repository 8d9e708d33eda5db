package global

var (
	Version        = "0.0.1"
	BuildTime      = "none"
	ConfigFilename = "pyproject.toml"
)

// IsAppleSilicon reports whether the given platform pair is an arm64 Mac.
// The minimum seed installer version differs there because the platform
// tagging scheme changed with macOS 11.
func IsAppleSilicon(goos string, goarch string) bool {
	return goos == "darwin" && goarch == "arm64"
}
