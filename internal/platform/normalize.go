package platform

import (
	"strings"
)

// familyMap maps distribution names to their canonical family names.
var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian, // gopsutil might return ubuntu as family
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
	"gentoo":   FamilyGentoo,
}

var archAliases = map[string]string{
	"x86_64":  "amd64",
	"x64":     "amd64",
	"aarch64": "arm64",
	"i386":    "386",
	"i686":    "386",
	"x86":     "386",
	"armv7":   "arm",
	"armv7l":  "arm",
}

var osAliases = map[string]string{
	"macos": "darwin",
	"osx":   "darwin",
	"mac":   "darwin",
	"win":   "windows",
}

// normalizeArchName maps architecture spellings onto GOARCH names.
// Unknown values are lowercased and passed through.
func normalizeArchName(arch string) string {
	arch = strings.ToLower(strings.TrimSpace(arch))
	if alias, ok := archAliases[arch]; ok {
		return alias
	}
	return arch
}

// normalizeOS maps OS spellings onto GOOS names.
func normalizeOS(os string) string {
	os = strings.ToLower(strings.TrimSpace(os))
	if alias, ok := osAliases[os]; ok {
		return alias
	}
	return os
}

// normalizePlatform converts platform IDs to lowercase for consistency.
func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

// mapFamily maps distribution family strings to canonical family names.
func mapFamily(family string) string {
	normalized := strings.ToLower(strings.TrimSpace(family))
	if canonical, ok := familyMap[normalized]; ok {
		return canonical
	}
	return FamilyUnknown
}
