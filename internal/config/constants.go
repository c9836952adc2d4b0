package config

import "time"

// Lua schema field names and globals
const (
	luaGlobalPacksync   = "packsync"
	luaFieldSource      = "source"
	luaFieldBaseURL     = "base_url"
	luaFieldManifest    = "manifest"
	luaFieldTarget      = "target_version"
	luaFieldInstall     = "install"
	luaFieldDir         = "dir"
	luaFieldDownload    = "download"
	luaFieldTries       = "tries"
	luaFieldRetryDelay  = "retry_delay_ms"
	luaFieldTimeout     = "timeout_s"
	luaFieldUserAgent   = "user_agent"
	luaFieldVerify      = "verify"
	luaFieldKeyring     = "keyring"
	luaFieldUpdate      = "update"
	luaFieldMode        = "mode"
	luaFieldPruneCache  = "prune_cache"
	luaFieldComponents  = "components"
	defaultConfigHeader = "-- packsync configuration"
)

// Defaults applied to fields the configuration leaves unset.
const (
	DefaultTries        = 5
	DefaultRetryDelayMS = 2000
	DefaultTimeoutS     = 300
	DefaultMode         = "incremental"
)

// Limits
const (
	MaxConfigSize = 1 << 20
	MaxTries      = 100
	ParseTimeout  = 5 * time.Second
)

// FileName is the default configuration file name.
const FileName = "packsync.lua"
