// Package utils exposes process-wide helpers shared by the CLI and the watch
// service: Viper-backed configuration loading with duration and list decode
// hooks, zap logger construction, and a writer that flushes after each line.
package utils
