// Package logx is timerbot's structured logging on top of zerolog.
//
// Console output is human readable with a short file:line caller, the
// optional file sink writes JSON lines, and WARN+ lines can be mirrored to
// an admin chat at a bounded rate. Loggers obtained from a Service follow
// its runtime reconfiguration.
package logx
