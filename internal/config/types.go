package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the parsed packsync table.
type Config struct {
	Source   SourceConfig   `json:"source"`
	Install  InstallConfig  `json:"install"`
	Download DownloadConfig `json:"download"`
	Verify   VerifyConfig   `json:"verify,omitempty"`
	Update   UpdateConfig   `json:"update"`

	// Components preselects optional components by id. Ids absent here
	// keep the remembered or default choice.
	Components map[string]bool `json:"components,omitempty"`
}

// SourceConfig says where packages come from.
type SourceConfig struct {
	// BaseURL is the prefix every file URL is joined onto.
	BaseURL string `json:"base_url"`
	// Manifest is an http(s) URL or a local path.
	Manifest      string `json:"manifest"`
	TargetVersion string `json:"target_version,omitempty"`
}

// InstallConfig says where packages go.
type InstallConfig struct {
	Dir string `json:"dir"`
}

// DownloadConfig tunes the transfer layer.
type DownloadConfig struct {
	Tries        int    `json:"tries"`
	RetryDelayMS int    `json:"retry_delay_ms"`
	TimeoutS     int    `json:"timeout_s"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// VerifyConfig configures signature checks.
type VerifyConfig struct {
	// Keyring is an OpenPGP public keyring, armored or binary.
	Keyring string `json:"keyring,omitempty"`
}

// UpdateConfig selects the update behaviour.
type UpdateConfig struct {
	Mode       string `json:"mode"`
	PruneCache bool   `json:"prune_cache,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Download: DownloadConfig{
			Tries:        DefaultTries,
			RetryDelayMS: DefaultRetryDelayMS,
			TimeoutS:     DefaultTimeoutS,
		},
		Update: UpdateConfig{Mode: DefaultMode},
	}
}

// RetryDelay is the fixed pause between download attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Download.RetryDelayMS) * time.Millisecond
}

// Timeout bounds a single download attempt.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Download.TimeoutS) * time.Second
}

// ManifestIsRemote reports whether the manifest is fetched over HTTP.
func (c *Config) ManifestIsRemote() bool {
	u, err := url.Parse(c.Source.Manifest)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// Validate performs basic validation on a Config.
func (c *Config) Validate() error {
	if err := validateURL(c.Source.BaseURL); err != nil {
		return &ValidationError{Field: "source.base_url", Message: err.Error()}
	}
	if c.Source.Manifest == "" {
		return &ValidationError{Field: "source.manifest", Message: "manifest location cannot be empty"}
	}
	if c.Install.Dir == "" {
		return &ValidationError{Field: "install.dir", Message: "installation directory cannot be empty"}
	}

	if c.Download.Tries < 1 || c.Download.Tries > MaxTries {
		return &ValidationError{
			Field:   "download.tries",
			Message: fmt.Sprintf("must be between 1 and %d (got %d)", MaxTries, c.Download.Tries),
		}
	}
	if c.Download.RetryDelayMS < 0 {
		return &ValidationError{Field: "download.retry_delay_ms", Message: "cannot be negative"}
	}
	if c.Download.TimeoutS <= 0 {
		return &ValidationError{Field: "download.timeout_s", Message: "must be positive"}
	}

	switch c.Update.Mode {
	case "incremental", "forced", "full":
	default:
		return &ValidationError{
			Field:   "update.mode",
			Message: fmt.Sprintf("unknown mode %q (expected incremental or forced)", c.Update.Mode),
		}
	}

	for id := range c.Components {
		if strings.TrimSpace(id) == "" {
			return &ValidationError{Field: "components", Message: "component id cannot be empty"}
		}
	}
	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL must use https:// or http:// scheme (got: %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// ExpandPath expands a leading ~/ and makes a relative path absolute
// against base. Empty stays empty.
func ExpandPath(path, base string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path), nil
}

// Resolve expands every path field relative to the directory holding the
// configuration file.
func (c *Config) Resolve(configDir string) error {
	var err error
	if c.Install.Dir, err = ExpandPath(c.Install.Dir, configDir); err != nil {
		return err
	}
	if c.Verify.Keyring, err = ExpandPath(c.Verify.Keyring, configDir); err != nil {
		return err
	}
	if !c.ManifestIsRemote() {
		if c.Source.Manifest, err = ExpandPath(c.Source.Manifest, configDir); err != nil {
			return err
		}
	}
	return nil
}
