package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/packsync/internal/platform"
)

const minimalConfig = `
	packsync = {
		source = {
			base_url = "https://downloads.example.com/app/",
			manifest = "https://downloads.example.com/app/manifest.yaml",
		},
		install = { dir = "/opt/app" },
	}
`

func linuxDetector() platform.Detector {
	return platform.StaticDetector{Info: &platform.Info{
		OS: "linux", Arch: "amd64", Platform: "ubuntu", Family: platform.FamilyDebian, Version: "24.04",
	}}
}

func TestParser_ParseString_Minimal(t *testing.T) {
	cfg, err := NewParser(nil).ParseString(context.Background(), minimalConfig)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if cfg.Source.BaseURL != "https://downloads.example.com/app/" {
		t.Errorf("Source.BaseURL = %q", cfg.Source.BaseURL)
	}
	if cfg.Install.Dir != "/opt/app" {
		t.Errorf("Install.Dir = %q, want /opt/app", cfg.Install.Dir)
	}
	if cfg.Download.Tries != DefaultTries {
		t.Errorf("Download.Tries = %d, want %d", cfg.Download.Tries, DefaultTries)
	}
	if cfg.Download.RetryDelayMS != DefaultRetryDelayMS {
		t.Errorf("Download.RetryDelayMS = %d, want %d", cfg.Download.RetryDelayMS, DefaultRetryDelayMS)
	}
	if cfg.Download.TimeoutS != DefaultTimeoutS {
		t.Errorf("Download.TimeoutS = %d, want %d", cfg.Download.TimeoutS, DefaultTimeoutS)
	}
	if cfg.Update.Mode != DefaultMode {
		t.Errorf("Update.Mode = %q, want %q", cfg.Update.Mode, DefaultMode)
	}
	if !cfg.ManifestIsRemote() {
		t.Error("ManifestIsRemote() = false, want true")
	}
}

func TestParser_ParseString_Full(t *testing.T) {
	luaCode := `
		packsync = {
			source = {
				base_url = "https://downloads.example.com/app/",
				manifest = "manifest.toml",
				target_version = "2.4.0",
			},
			install = { dir = "~/apps/example" },
			download = {
				tries = 3,
				retry_delay_ms = 500,
				timeout_s = 60,
				user_agent = "example-updater/2",
			},
			verify = { keyring = "keys/release.asc" },
			update = { mode = "forced", prune_cache = true },
			components = { docs = true, extras = false },
		}
	`

	cfg, err := NewParser(nil).ParseString(context.Background(), luaCode)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if cfg.Source.TargetVersion != "2.4.0" {
		t.Errorf("Source.TargetVersion = %q", cfg.Source.TargetVersion)
	}
	if cfg.Download.Tries != 3 || cfg.Download.RetryDelayMS != 500 || cfg.Download.TimeoutS != 60 {
		t.Errorf("Download = %+v", cfg.Download)
	}
	if cfg.RetryDelay().Milliseconds() != 500 {
		t.Errorf("RetryDelay() = %v", cfg.RetryDelay())
	}
	if cfg.Timeout().Seconds() != 60 {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	if cfg.Download.UserAgent != "example-updater/2" {
		t.Errorf("Download.UserAgent = %q", cfg.Download.UserAgent)
	}
	if cfg.Verify.Keyring != "keys/release.asc" {
		t.Errorf("Verify.Keyring = %q", cfg.Verify.Keyring)
	}
	if cfg.Update.Mode != "forced" || !cfg.Update.PruneCache {
		t.Errorf("Update = %+v", cfg.Update)
	}
	if len(cfg.Components) != 2 || !cfg.Components["docs"] || cfg.Components["extras"] {
		t.Errorf("Components = %v", cfg.Components)
	}
	if cfg.ManifestIsRemote() {
		t.Error("ManifestIsRemote() = true for a local path")
	}
}

func TestParser_ParseString_PlatformConditionals(t *testing.T) {
	luaCode := `
		packsync = {
			source = {
				base_url = "https://downloads.example.com/" .. platform.os .. "/",
				manifest = "https://downloads.example.com/manifest.yaml",
			},
			install = { dir = platform.is_windows and "C:/app" or "/opt/app" },
			components = {
				"core",
				platform.when(platform.is_macos, "metal"),
				platform.when(platform.distro.family == "debian", "deb-tools"),
			},
		}
	`

	cfg, err := NewParser(linuxDetector()).ParseString(context.Background(), luaCode)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	if cfg.Source.BaseURL != "https://downloads.example.com/linux/" {
		t.Errorf("Source.BaseURL = %q", cfg.Source.BaseURL)
	}
	if cfg.Install.Dir != "/opt/app" {
		t.Errorf("Install.Dir = %q", cfg.Install.Dir)
	}
	if !cfg.Components["core"] || !cfg.Components["deb-tools"] || cfg.Components["metal"] {
		t.Errorf("Components = %v", cfg.Components)
	}
}

func TestParser_ParseString_PlatformTableReadOnly(t *testing.T) {
	luaCode := `platform.os = "windows"` + minimalConfig

	_, err := NewParser(linuxDetector()).ParseString(context.Background(), luaCode)
	if err == nil {
		t.Fatal("ParseString() expected error writing the platform table")
	}
}

func TestParser_ParseString_DetectorError(t *testing.T) {
	detector := platform.StaticDetector{Err: errors.New("no host info")}
	_, err := NewParser(detector).ParseString(context.Background(), minimalConfig)
	if err == nil || !strings.Contains(err.Error(), "platform detection failed") {
		t.Fatalf("ParseString() error = %v, want platform detection failure", err)
	}
}

func TestParser_ParseString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
	}{
		{
			name:    "syntax error",
			code:    `packsync = {`,
			wantMsg: "Lua syntax error",
		},
		{
			name:    "missing table",
			code:    `other = {}`,
			wantMsg: "missing or invalid 'packsync' table",
		},
		{
			name:    "table of wrong type",
			code:    `packsync = "yes"`,
			wantMsg: "missing or invalid 'packsync' table",
		},
		{
			name:    "missing base url",
			code:    `packsync = { source = { manifest = "m.yaml" }, install = { dir = "/opt" } }`,
			wantMsg: "source.base_url",
		},
		{
			name:    "ftp base url",
			code:    `packsync = { source = { base_url = "ftp://x/", manifest = "m.yaml" }, install = { dir = "/opt" } }`,
			wantMsg: "source.base_url",
		},
		{
			name:    "missing manifest",
			code:    `packsync = { source = { base_url = "https://x/" }, install = { dir = "/opt" } }`,
			wantMsg: "source.manifest",
		},
		{
			name:    "missing install dir",
			code:    `packsync = { source = { base_url = "https://x/", manifest = "m.yaml" } }`,
			wantMsg: "install.dir",
		},
		{
			name: "zero tries",
			code: `packsync = { source = { base_url = "https://x/", manifest = "m.yaml" },
				install = { dir = "/opt" }, download = { tries = 0 } }`,
			wantMsg: "download.tries",
		},
		{
			name: "negative delay",
			code: `packsync = { source = { base_url = "https://x/", manifest = "m.yaml" },
				install = { dir = "/opt" }, download = { retry_delay_ms = -1 } }`,
			wantMsg: "download.retry_delay_ms",
		},
		{
			name: "unknown mode",
			code: `packsync = { source = { base_url = "https://x/", manifest = "m.yaml" },
				install = { dir = "/opt" }, update = { mode = "sometimes" } }`,
			wantMsg: "update.mode",
		},
	}

	parser := NewParser(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.ParseString(context.Background(), tt.code)
			if err == nil {
				t.Fatal("ParseString() expected error, got nil")
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("error type = %T, want *ParseError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParser_ParseString_Timeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewParser(nil).ParseString(ctx, `while true do end`)
	if err == nil {
		t.Fatal("ParseString() expected error for a cancelled context")
	}
}

func TestParser_ParseString_TooLarge(t *testing.T) {
	code := "-- " + strings.Repeat("x", MaxConfigSize) + "\n" + minimalConfig
	_, err := NewParser(nil).ParseString(context.Background(), code)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("ParseString() error = %v, want size error", err)
	}
}

func TestParser_ParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	code := `
		packsync = {
			source = {
				base_url = "https://downloads.example.com/app/",
				manifest = "manifests/app.yaml",
			},
			install = { dir = "install" },
			verify = { keyring = "release.asc" },
		}
	`
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewParser(nil).ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}

	if want := filepath.Join(dir, "install"); cfg.Install.Dir != want {
		t.Errorf("Install.Dir = %q, want %q", cfg.Install.Dir, want)
	}
	if want := filepath.Join(dir, "manifests", "app.yaml"); cfg.Source.Manifest != want {
		t.Errorf("Source.Manifest = %q, want %q", cfg.Source.Manifest, want)
	}
	if want := filepath.Join(dir, "release.asc"); cfg.Verify.Keyring != want {
		t.Errorf("Verify.Keyring = %q, want %q", cfg.Verify.Keyring, want)
	}
}

func TestParser_ParseFile_Missing(t *testing.T) {
	_, err := NewParser(nil).ParseFile(context.Background(), filepath.Join(t.TempDir(), "absent.lua"))
	if err == nil {
		t.Fatal("ParseFile() expected error for a missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
}

func TestFormatError(t *testing.T) {
	err := &ParseError{
		Message: "Lua syntax error",
		Detail:  "<string>:1: unexpected symbol\nstack traceback:\n\t[G]: ?",
	}

	short := FormatError(err, false)
	if strings.Contains(short, "stack traceback") {
		t.Errorf("FormatError(verbose=false) = %q, should strip the traceback", short)
	}
	if !strings.Contains(short, "unexpected symbol") {
		t.Errorf("FormatError(verbose=false) = %q, lost the detail", short)
	}

	long := FormatError(err, true)
	if !strings.Contains(long, "Details:") || !strings.Contains(long, "stack traceback") {
		t.Errorf("FormatError(verbose=true) = %q", long)
	}

	plain := errors.New("plain")
	if FormatError(plain, false) != "plain" {
		t.Errorf("FormatError(plain) = %q", FormatError(plain, false))
	}
}
