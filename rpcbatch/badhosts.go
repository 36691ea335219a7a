package rpcbatch

import (
	"context"
	"io"
	"net/url"
	"strings"

	"cryptdrive.io/errors"
	"cryptdrive.io/log"
)

// ReportBadHosts posts a `pf?h=` request naming hosts that failed to
// connect, letting the server route future requests around them. This is
// a supplemented feature (§6.1 mentions bad-host reporting only in
// passing). The dispatcher does not call it on its own connectivity
// failures; a report is sent only when ReportBadHosts is called.
func (d *Dispatcher) ReportBadHosts(ctx context.Context, hosts []string) error {
	if len(hosts) == 0 {
		return nil
	}
	d.mu.Lock()
	for _, h := range hosts {
		d.badHosts[h] = struct{}{}
	}
	reqURL := d.apiURL + "pf?h=" + url.QueryEscape(strings.Join(hosts, ","))
	d.mu.Unlock()

	resp, _, err := d.httpIO.Post(ctx, reqURL, nil)
	if err != nil {
		log.Debug.Printf("rpcbatch: bad-host report failed: %v", err)
		return errors.E("rpcbatch.ReportBadHosts", errors.Transport, err)
	}
	defer resp.Close()
	_, _ = io.ReadAll(resp)
	return nil
}

// BadHosts returns the set of hosts reported bad so far, for tests and
// diagnostics.
func (d *Dispatcher) BadHosts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.badHosts))
	for h := range d.badHosts {
		out = append(out, h)
	}
	return out
}
