package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func fixedGenerator() *Generator {
	g := NewGenerator()
	g.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return g
}

func TestGenerator_Generate(t *testing.T) {
	cfg := Default()
	cfg.Source = SourceConfig{
		BaseURL:       "https://downloads.example.com/app/",
		Manifest:      "https://downloads.example.com/app/manifest.yaml",
		TargetVersion: "2.4.0",
	}
	cfg.Install.Dir = "/opt/app"
	cfg.Verify.Keyring = "/etc/packsync/release.asc"
	cfg.Update.PruneCache = true
	cfg.Components = map[string]bool{"extras": false, "docs": true}

	code, err := fixedGenerator().Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	for _, want := range []string{
		"-- Generated: 2026-01-02T03:04:05Z",
		"packsync = {",
		`base_url = "https://downloads.example.com/app/",`,
		`target_version = "2.4.0",`,
		"tries = 5,",
		"retry_delay_ms = 2000,",
		`keyring = "/etc/packsync/release.asc",`,
		"prune_cache = true,",
		`["docs"] = true,`,
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated config missing %q:\n%s", want, code)
		}
	}
	if strings.Index(code, `["docs"]`) > strings.Index(code, `["extras"]`) {
		t.Error("components are not sorted")
	}

	parsed, err := NewParser(nil).ParseString(context.Background(), code)
	if err != nil {
		t.Fatalf("generated config does not parse: %v\n%s", err, code)
	}
	if parsed.Source != cfg.Source || parsed.Download != cfg.Download || parsed.Update != cfg.Update {
		t.Errorf("parsed = %+v, want %+v", parsed, cfg)
	}
	if parsed.Components["docs"] != true || parsed.Components["extras"] != false || len(parsed.Components) != 2 {
		t.Errorf("parsed.Components = %v", parsed.Components)
	}
}

func TestGenerator_Generate_OmitsEmptyOptionalFields(t *testing.T) {
	cfg := Default()
	code, err := fixedGenerator().Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for _, unwanted := range []string{"target_version", "user_agent", "verify", "components"} {
		if strings.Contains(code, unwanted) {
			t.Errorf("generated config should not contain %q:\n%s", unwanted, code)
		}
	}

	if _, err := NewGenerator().Generate(nil); err == nil {
		t.Error("Generate(nil) expected error")
	}
}

func TestGenerator_QuoteLuaString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", `"hello"`},
		{`say "hi"`, `"say \"hi\""`},
		{"a\nb", `"a\nb"`},
		{`C:\app`, `"C:\\app"`},
		{"tab\there", `"tab\there"`},
	}

	g := NewGenerator()
	for _, tt := range tests {
		if got := g.quoteLuaString(tt.input); got != tt.want {
			t.Errorf("quoteLuaString(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}
