// Package config parses the packsync Lua configuration file.
//
// # Overview
//
// A configuration is a Lua file that assigns a global packsync table:
//
//	packsync = {
//	  source = {
//	    base_url = "https://downloads.example.com/app/",
//	    manifest = "https://downloads.example.com/app/manifest.yaml",
//	    target_version = "2.4.0",
//	  },
//	  install = { dir = "~/apps/example" },
//	  download = { tries = 5, retry_delay_ms = 2000, timeout_s = 300 },
//	  verify = { keyring = "~/.config/packsync/release.asc" },
//	  update = { mode = "incremental", prune_cache = true },
//	  components = { docs = true, extras = platform.is_linux },
//	}
//
// The file runs in a sandboxed gopher-lua VM. A read-only platform table
// (os, arch, is_linux, is_macos, is_windows, distro, when) is injected
// before the file runs so a single configuration can adapt to the host.
//
// # Security Model
//
// User Lua code cannot execute commands, touch the filesystem, load other
// code or tamper with metatables. Configs larger than MaxConfigSize are
// rejected before they are executed, and parsing stops when the context
// is cancelled.
//
// # Usage
//
//	parser := config.NewParser(platform.NewDetector())
//	cfg, err := parser.ParseFile(ctx, path)
//	if err != nil {
//	    return fmt.Errorf("load config: %w", err)
//	}
//
// A starter file can be produced with Generator:
//
//	code, err := config.NewGenerator().Generate(config.Default())
package config
