// Package platform detects the host environment that manifest environment
// filters and the Lua configuration are evaluated against.
//
// OS and architecture come from the Go runtime; Linux distribution details
// come from gopsutil with a graceful fallback when detection fails.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyGentoo  = "gentoo"  // Gentoo
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64", "386", "arm" (normalized)
	ArchRaw  string // original GOARCH
	Platform string // distro ID (Linux only, e.g., "ubuntu", "arch")
	Family   string // canonical family (e.g., "debian", "rhel", "arch")
	Version  string // distro version (Linux only, e.g., "22.04")
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// Matches reports whether the platform satisfies every non-empty list.
// Values are compared after normalization, so "x86_64" matches amd64 and
// "macos" matches darwin.
func (i *Info) Matches(oses, arches, families []string) bool {
	if len(oses) > 0 && !containsNormalized(oses, i.OS, normalizeOS) {
		return false
	}
	if len(arches) > 0 && !containsNormalized(arches, i.Arch, normalizeArchName) {
		return false
	}
	if len(families) > 0 && !containsNormalized(families, i.Family, mapFamily) {
		return false
	}
	return true
}

func containsNormalized(values []string, want string, normalize func(string) string) bool {
	for _, v := range values {
		if normalize(v) == want {
			return true
		}
	}
	return false
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Useful for tests and for callers
// that already know the target platform.
type StaticDetector struct {
	Info *Info
	Err  error
}

// Detect returns the configured info and error.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	return s.Info, s.Err
}
