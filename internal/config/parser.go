package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/packsync/internal/platform"
)

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector skips the platform table.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseFile reads and parses a configuration file. Relative paths in the
// result are resolved against the file's directory.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, &ParseError{
			Message: "config file too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", info.Size(), MaxConfigSize),
		}
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := p.ParseString(ctx, string(code))
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := cfg.Resolve(filepath.Dir(abs)); err != nil {
		return nil, fmt.Errorf("resolve config paths: %w", err)
	}
	return cfg, nil
}

// ParseString parses a Lua config from a string.
// This is useful for testing and in-memory config generation.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	if len(luaCode) > MaxConfigSize {
		return nil, &ParseError{
			Message: "config too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", len(luaCode), MaxConfigSize),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, ParseTimeout)
	defer cancel()

	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	// Detect platform and inject platform table
	if p.detector != nil {
		platformInfo, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, platformInfo); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ParseError{Message: "config evaluation aborted", Detail: ctxErr.Error()}
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractConfig(L)
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig reads the global packsync table, applies defaults and
// validates the result.
func extractConfig(L *lua.LState) (*Config, error) {
	root := L.GetGlobal(luaGlobalPacksync)
	if root.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'packsync' table",
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	table := root.(*lua.LTable)
	cfg := Default()

	if t, ok := subtable(table, luaFieldSource); ok {
		cfg.Source.BaseURL = stringField(t, luaFieldBaseURL, cfg.Source.BaseURL)
		cfg.Source.Manifest = stringField(t, luaFieldManifest, cfg.Source.Manifest)
		cfg.Source.TargetVersion = stringField(t, luaFieldTarget, cfg.Source.TargetVersion)
	}
	if t, ok := subtable(table, luaFieldInstall); ok {
		cfg.Install.Dir = stringField(t, luaFieldDir, cfg.Install.Dir)
	}
	if t, ok := subtable(table, luaFieldDownload); ok {
		cfg.Download.Tries = intField(t, luaFieldTries, cfg.Download.Tries)
		cfg.Download.RetryDelayMS = intField(t, luaFieldRetryDelay, cfg.Download.RetryDelayMS)
		cfg.Download.TimeoutS = intField(t, luaFieldTimeout, cfg.Download.TimeoutS)
		cfg.Download.UserAgent = stringField(t, luaFieldUserAgent, cfg.Download.UserAgent)
	}
	if t, ok := subtable(table, luaFieldVerify); ok {
		cfg.Verify.Keyring = stringField(t, luaFieldKeyring, cfg.Verify.Keyring)
	}
	if t, ok := subtable(table, luaFieldUpdate); ok {
		cfg.Update.Mode = stringField(t, luaFieldMode, cfg.Update.Mode)
		cfg.Update.PruneCache = boolField(t, luaFieldPruneCache, cfg.Update.PruneCache)
	}
	if t, ok := subtable(table, luaFieldComponents); ok {
		cfg.Components = extractComponents(t)
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}
	return cfg, nil
}

func subtable(t *lua.LTable, name string) (*lua.LTable, bool) {
	v := t.RawGetString(name)
	if v.Type() != lua.LTTable {
		return nil, false
	}
	return v.(*lua.LTable), true
}

func stringField(t *lua.LTable, name, def string) string {
	if v := t.RawGetString(name); v.Type() == lua.LTString {
		return v.String()
	}
	return def
}

func intField(t *lua.LTable, name string, def int) int {
	if v := t.RawGetString(name); v.Type() == lua.LTNumber {
		return int(lua.LVAsNumber(v))
	}
	return def
}

func boolField(t *lua.LTable, name string, def bool) bool {
	if v := t.RawGetString(name); v.Type() == lua.LTBool {
		return bool(v.(lua.LBool))
	}
	return def
}

// extractComponents accepts both a map (docs = true) and a list of
// selected ids ({"docs", "extras"}). nil entries from platform
// conditionals are skipped.
func extractComponents(t *lua.LTable) map[string]bool {
	out := make(map[string]bool)
	t.ForEach(func(key, value lua.LValue) {
		switch {
		case key.Type() == lua.LTString && value.Type() == lua.LTBool:
			out[key.String()] = bool(value.(lua.LBool))
		case key.Type() == lua.LTNumber && value.Type() == lua.LTString:
			out[value.String()] = true
		}
	})
	return out
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
