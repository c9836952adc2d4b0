// Package manifest is the in-memory model of a package manifest: what
// should exist in an installation after an update.
//
// A Manifest is parsed once and then only queried. Per-file decisions are
// made from a Policy resolved once per file by Resolve, never by re-reading
// the optional fields scattered over groups and files.
package manifest

// Phase tags a lifecycle message with the point in an update it is shown.
type Phase string

const (
	PhaseInitialize   Phase = "initialize"
	PhasePreDownload  Phase = "pre_download"
	PhasePostDownload Phase = "post_download"
	PhasePreInstall   Phase = "pre_install"
	PhasePostInstall  Phase = "post_install"
	PhaseFinalize     Phase = "finalize"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseInitialize,
	PhasePreDownload,
	PhasePostDownload,
	PhasePreInstall,
	PhasePostInstall,
	PhaseFinalize,
}

// Kind selects how a file is deployed.
type Kind string

const (
	// KindFile is written verbatim to its destination.
	KindFile Kind = "file"
	// KindArchive is a tar stream extracted below its destination directory.
	KindArchive Kind = "archive"
)

// Overwrite selects what happens when a destination already exists.
type Overwrite string

const (
	// OverwriteAlways replaces the destination. This is the default.
	OverwriteAlways Overwrite = "always"
	// OverwritePreserve keeps an existing destination and its recorded
	// version marker. Used for user-editable files.
	OverwritePreserve Overwrite = "preserve"
)

// Compression names the encoding a group's files are published in.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// SupportedVersionPattern is the manifest format versions this engine reads.
const SupportedVersionPattern = `^1\.[012]$`

// Manifest describes the target file set of an installation.
type Manifest struct {
	Version    string      `json:"version" yaml:"version" toml:"version"`
	Title      string      `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Components []Component `json:"components,omitempty" yaml:"components,omitempty" toml:"components,omitempty"`
	Groups     []FileGroup `json:"groups" yaml:"groups" toml:"groups"`
	Messages   []Message   `json:"messages,omitempty" yaml:"messages,omitempty" toml:"messages,omitempty"`
}

// FileGroup is a set of files sharing a remote source prefix, a local
// destination prefix and transfer settings.
type FileGroup struct {
	// Source is the remote path prefix, joined onto the base URL.
	Source string `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	// Dest is the local path prefix below the installation root.
	Dest string `json:"dest,omitempty" yaml:"dest,omitempty" toml:"dest,omitempty"`
	// Digest names the algorithm every file in the group is verified with.
	Digest string `json:"digest,omitempty" yaml:"digest,omitempty" toml:"digest,omitempty"`
	// Compression is the encoding files are published in.
	Compression Compression `json:"compression,omitempty" yaml:"compression,omitempty" toml:"compression,omitempty"`
	// Signed groups publish a detached OpenPGP signature at <url>.sig.
	Signed bool   `json:"signed,omitempty" yaml:"signed,omitempty" toml:"signed,omitempty"`
	Files  []File `json:"files" yaml:"files" toml:"files"`
}

// File is one entry of a FileGroup.
type File struct {
	// Path is relative to the group's source and destination prefixes.
	Path string `json:"path" yaml:"path" toml:"path"`
	// Target overrides the destination path below the group's Dest.
	Target string `json:"target,omitempty" yaml:"target,omitempty" toml:"target,omitempty"`
	// Size is the declared size, used for progress estimates only.
	Size int64 `json:"size,omitempty" yaml:"size,omitempty" toml:"size,omitempty"`
	// Version is an explicit version string; when it equals the cached
	// marker the file is not fetched at all.
	Version     string      `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Environment Environment `json:"environment,omitempty" yaml:"environment,omitempty" toml:"environment,omitempty"`
	// Components scopes the file to optional components. Empty means always.
	Components []string  `json:"components,omitempty" yaml:"components,omitempty" toml:"components,omitempty"`
	Overwrite  Overwrite `json:"overwrite,omitempty" yaml:"overwrite,omitempty" toml:"overwrite,omitempty"`
	Kind       Kind      `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty"`
	// DeltaFrom is the version marker a bsdiff patch published at
	// <url>.bsdiff was built against.
	DeltaFrom string `json:"delta_from,omitempty" yaml:"delta_from,omitempty" toml:"delta_from,omitempty"`
	// Checksum is the hex digest of the installed content, in the group's
	// digest algorithm or SHA-256 when the group has none. Required with
	// DeltaFrom.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty" toml:"checksum,omitempty"`
}

// Environment restricts a file to matching hosts. Empty lists match all.
type Environment struct {
	OS     []string `json:"os,omitempty" yaml:"os,omitempty" toml:"os,omitempty"`
	Arch   []string `json:"arch,omitempty" yaml:"arch,omitempty" toml:"arch,omitempty"`
	Family []string `json:"family,omitempty" yaml:"family,omitempty" toml:"family,omitempty"`
}

// Component is an installable unit files may be scoped to.
type Component struct {
	ID          string `json:"id" yaml:"id" toml:"id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
	// Default is the initial selection of an optional component.
	Default bool `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
}

// Message is shown to the user at its Phase. Once messages are shown a
// single time per installation.
type Message struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	Phase Phase  `json:"phase" yaml:"phase" toml:"phase"`
	Title string `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Text  string `json:"text" yaml:"text" toml:"text"`
	Once  bool   `json:"once,omitempty" yaml:"once,omitempty" toml:"once,omitempty"`
}

// Selection maps component IDs to whether they are selected.
type Selection map[string]bool

// Entry addresses one file of a manifest in declaration order.
type Entry struct {
	Index int
	Group *FileGroup
	File  *File
}
