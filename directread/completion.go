package directread

import (
	"cryptdrive.io/clock"
	"cryptdrive.io/errors"
)

// applyErrorPolicy implements §4.6's per-error retry rules. Must be
// called with e.mu held.
func (e *Engine) applyErrorPolicy(n *DirectReadNode, r *Read, retryInSecs int, err error) {
	switch {
	case errors.Match(errors.Quota, err):
		// Overquota surfaces to the caller immediately and arms the
		// node with the server's timeleft, rather than being retried
		// silently like a transient error.
		if retryInSecs <= 0 {
			retryInSecs = defaultOverquotaBackoffSecs
		}
		n.overquotaUntil = e.clock.Now() + secsToDS(retryInSecs)
		r.Complete(nil, err)
	case errors.Match(errors.Throttling, err), errors.Match(errors.Transport, err):
		// EAGAIN/5xx: requeue at the head and back off before this
		// node is serviced again.
		n.queue = append([]*Read{r}, n.queue...)
		if n.backoff != nil {
			n.backoff.Backoff()
		}
	default:
		r.Complete(nil, err)
	}
}

const defaultOverquotaBackoffSecs = 3600

func secsToDS(secs int) clock.DS {
	return clock.DS(secs * 10)
}
