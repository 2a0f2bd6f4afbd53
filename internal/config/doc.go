// Package config provides luahost configuration.
//
// Configuration is resolved in three layers, higher layers overriding lower:
//
//  1. Built-in defaults (Default)
//  2. A configuration file, TOML (.toml) or YAML (.yaml, .yml)
//  3. Environment variables prefixed with LUAHOST_
//
// Environment variables map to settings as LUAHOST_<SECTION>_<KEY>, for
// example LUAHOST_SERVER_READ_LIMIT sets server.read_limit. LUAHOST_LISTEN,
// LUAHOST_LOG_LEVEL and LUAHOST_LOG_FORMAT are shorthands.
//
// # Sections
//
//	[server]       listen, path, read_limit, shutdown_timeout
//	[logging]      level, format
//	[scheduler]    poll_interval
//	[events]       capacity
//	[debugger]     generated_sources, breakpoints_file
//	[interpreter]  call_stack_size, sandbox
//	[watch]        enabled, debounce
//
// Durations are written as Go duration strings ("250ms", "5s").
//
// # Basic Usage
//
//	cfg, err := config.Load("luahost.toml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Server.Listen)
package config
