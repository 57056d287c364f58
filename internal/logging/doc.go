// Package logging builds the slog logger used across the daemon and CLI.
//
// It provides a console handler for interactive use, a JSON handler for
// machine-readable logs, attribute helper aliases, standardized field names,
// and context helpers that stamp job and stage identifiers onto every record
// emitted inside a pipeline execution.
package logging
