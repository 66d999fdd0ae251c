/*
Package log provides structured logging via zerolog: a global Logger
initialized once by Init, plus component-scoped child loggers
(WithComponent, WithNodeID, WithRepository, WithTaskID) so callers don't
have to repeat context fields on every line.

JSON output is for production; console output (zerolog.ConsoleWriter) is
for local development. Both carry timestamps.
*/
package log
