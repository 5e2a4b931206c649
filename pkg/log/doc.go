/*
Package log provides structured logging built on zerolog.

A single global logger is initialized once at daemon startup; components
derive child loggers with stable identifying fields:

	logger := log.WithComponent("router")
	logger.Info().Str("worker_id", id).Msg("worker created")

Console output is the default; JSON output is enabled in production via
configuration. Levels: debug, info, warn, error.
*/
package log
