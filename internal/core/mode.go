// Package core is the orchestration layer.  It composes transports,
// sessions and the liveness monitor into complete operational modes
// and provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	frame/protocol  →  roster/session/client  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of rollcall (serve,
// client or proxy).  Each mode owns its full lifecycle from the first
// connection to teardown and returns when ctx is cancelled.
type Mode interface {
	Run(ctx context.Context) error
}
