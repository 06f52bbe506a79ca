/*
Package log provides structured logging for fbuildd using zerolog.

It wraps zerolog to give every subsystem (lock manager, serial manager,
compilation queue, processors, ...) a component-scoped child logger with
consistent fields, while keeping a single global sink that the daemon's
CLI configures once at startup.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	serialLog := log.WithComponent("serial")
	serialLog.Info().Str("port", "/dev/ttyUSB0").Msg("port opened")

	opLog := log.WithOperationID(op.ID)
	opLog.Error().Err(err).Msg("build failed")

Component loggers are cheap to create (zerolog child loggers share the
underlying writer) and are the preferred way to pass logging context
into a subsystem constructor instead of reaching for the package-level
Logger directly from deep call sites.
*/
package log
