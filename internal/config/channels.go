// Channel, cache and profiling configuration re-exports.
//
// DESIGN: These configs are defined next to the code that uses them
// (internal/notify, internal/store, internal/profiling). This file re-exports
// those types for use by the main Config struct.
package config

import (
	"github.com/compresr/web-performance-monitor/internal/notify"
	"github.com/compresr/web-performance-monitor/internal/profiling"
	"github.com/compresr/web-performance-monitor/internal/store"
)

// =============================================================================
// RE-EXPORTS FROM notify PACKAGE
// =============================================================================

// ChannelsConfig is an alias for notify.ChannelsConfig.
type ChannelsConfig = notify.ChannelsConfig

// LocalFileConfig is an alias for notify.LocalFileConfig.
type LocalFileConfig = notify.LocalFileConfig

// MattermostConfig is an alias for notify.MattermostConfig.
type MattermostConfig = notify.MattermostConfig

// S3Config is an alias for notify.S3Config.
type S3Config = notify.S3Config

// WebSocketConfig is an alias for notify.WebSocketConfig.
type WebSocketConfig = notify.WebSocketConfig

// =============================================================================
// RE-EXPORTS FROM store AND profiling PACKAGES
// =============================================================================

// CacheConfig is an alias for store.Config.
type CacheConfig = store.Config

// RedisConfig is an alias for store.RedisConfig.
type RedisConfig = store.RedisConfig

// ProfilingConfig is an alias for profiling.Config.
type ProfilingConfig = profiling.Config
