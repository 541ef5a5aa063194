/*
Package log provides structured logging for the ensemble coordinator using
zerolog.

The log package wraps zerolog to provide JSON or console structured logging
with component-specific child loggers (WithComponent, WithWorkerID,
WithRunID, WithSimID) and package-level convenience functions (Info, Debug,
Warn, Error, Errorf, Fatal). Init(cfg) configures the global Logger once at
process startup from the CLI's persistent flags; every other package calls
log.WithComponent("...") to get a logger tagged with its own name.
*/
package log
