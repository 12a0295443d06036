// Package logging configures the process logger for obplan.
//
// Without --debug a run logs warnings and errors to stderr as text. With
// --debug every record is written as JSON to a rotating file under
// ~/.obplan/logs/ and echoed to stderr, so a failed preflight can be
// replayed host by host from the file.
//
// Attributes whose key names a password are masked before they reach any
// handler.
package logging
