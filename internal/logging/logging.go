// Package logging provides a small, stdlib-only, per-host-prefixed logger.
// dupedog never imports a structured-logging library itself (see
// DESIGN.md), so PNS follows suit: a *log.Logger wrapper is enough for a
// federation of long-running daemons, each tagging its own output with its
// host name.
package logging

import (
	"log"
	"os"
)

// New returns a logger that prefixes every line with "[name] ".
func New(name string) *log.Logger {
	return log.New(os.Stderr, "["+name+"] ", log.LstdFlags)
}
