// Package engine wires C1-C9 into the cooperative main loop of §5 (C10):
// one Exec(ctx) call drains ready work across the RPC dispatcher, action
// stream, transfer engine, direct-read engine and sync engine, then
// returns; Wait(ctx) blocks until there is work to drain again.
//
// Grounded on dir/dircache/server.go's serve-loop select shape,
// generalized from a single directory-cache refresh goroutine to the
// full multi-subsystem tick this spec's Design Note §9 describes.
package engine

import "cryptdrive.io/errors"

// RetryDecision is what a subsystem should do after a failed operation,
// per §7's per-kind retry table.
type RetryDecision uint8

const (
	// RetryNone surfaces the error to the caller without retrying.
	RetryNone RetryDecision = iota
	// RetryBackoff retries after the subsystem's own capped-exponential
	// backoff timer fires again.
	RetryBackoff
	// RetryQuota pauses the affected subsystem and surfaces storage
	// state; retried only once server-side quota state changes.
	RetryQuota
	// RetrySessionDead terminates session state; the caller must
	// re-authenticate rather than retry.
	RetrySessionDead
	// RetryReload triggers a full reload() per FatalIntegrity's
	// handling (§7).
	RetryReload
)

// Classify maps an error's Kind to the retry decision of §7's table.
// Errors that aren't a *errors.Error (no Kind attached) are treated as
// Other, which never retries — matching errors.Match's own "unknown kind
// values never match" behavior.
func Classify(err error) RetryDecision {
	if err == nil {
		return RetryNone
	}
	switch {
	case errors.Match(errors.Transport, err), errors.Match(errors.Throttling, err):
		return RetryBackoff
	case errors.Match(errors.Quota, err):
		return RetryQuota
	case errors.Match(errors.SessionKind, err):
		return RetrySessionDead
	case errors.Match(errors.FatalIntegrity, err):
		return RetryReload
	default:
		return RetryNone
	}
}
