package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Generator generates Lua configuration code from a Config.
type Generator struct {
	indent string
	now    func() time.Time
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{indent: "  ", now: time.Now}
}

// Generate renders cfg as a packsync table. Optional sections that hold
// only defaults are still written so the file documents every knob.
func (g *Generator) Generate(cfg *Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("nil config")
	}

	var buf bytes.Buffer
	buf.WriteString(defaultConfigHeader)
	buf.WriteString("\n-- Generated: ")
	buf.WriteString(g.now().UTC().Format(time.RFC3339))
	buf.WriteString("\n\n")
	buf.WriteString(luaGlobalPacksync + " = {\n")

	g.section(&buf, luaFieldSource, []field{
		{luaFieldBaseURL, g.quoteLuaString(cfg.Source.BaseURL)},
		{luaFieldManifest, g.quoteLuaString(cfg.Source.Manifest)},
		optionalString(g, luaFieldTarget, cfg.Source.TargetVersion),
	})
	g.section(&buf, luaFieldInstall, []field{
		{luaFieldDir, g.quoteLuaString(cfg.Install.Dir)},
	})
	g.section(&buf, luaFieldDownload, []field{
		{luaFieldTries, fmt.Sprintf("%d", cfg.Download.Tries)},
		{luaFieldRetryDelay, fmt.Sprintf("%d", cfg.Download.RetryDelayMS)},
		{luaFieldTimeout, fmt.Sprintf("%d", cfg.Download.TimeoutS)},
		optionalString(g, luaFieldUserAgent, cfg.Download.UserAgent),
	})
	if cfg.Verify.Keyring != "" {
		g.section(&buf, luaFieldVerify, []field{
			{luaFieldKeyring, g.quoteLuaString(cfg.Verify.Keyring)},
		})
	}
	g.section(&buf, luaFieldUpdate, []field{
		{luaFieldMode, g.quoteLuaString(cfg.Update.Mode)},
		{luaFieldPruneCache, fmt.Sprintf("%t", cfg.Update.PruneCache)},
	})

	if len(cfg.Components) > 0 {
		ids := make([]string, 0, len(cfg.Components))
		for id := range cfg.Components {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fields := make([]field, 0, len(ids))
		for _, id := range ids {
			fields = append(fields, field{"[" + g.quoteLuaString(id) + "]", fmt.Sprintf("%t", cfg.Components[id])})
		}
		g.section(&buf, luaFieldComponents, fields)
	}

	buf.WriteString("}\n")
	return buf.String(), nil
}

type field struct {
	name  string
	value string
}

func optionalString(g *Generator, name, value string) field {
	if value == "" {
		return field{}
	}
	return field{name, g.quoteLuaString(value)}
}

// section writes name = { ... } skipping empty fields.
func (g *Generator) section(buf *bytes.Buffer, name string, fields []field) {
	buf.WriteString(g.indent)
	buf.WriteString(name)
	buf.WriteString(" = {\n")
	for _, f := range fields {
		if f.name == "" {
			continue
		}
		buf.WriteString(g.indent)
		buf.WriteString(g.indent)
		buf.WriteString(f.name)
		buf.WriteString(" = ")
		buf.WriteString(f.value)
		buf.WriteString(",\n")
	}
	buf.WriteString(g.indent)
	buf.WriteString("},\n")
}

// quoteLuaString quotes a string for Lua, handling special characters.
func (g *Generator) quoteLuaString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\") // Escape backslashes first
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
