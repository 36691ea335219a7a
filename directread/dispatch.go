package directread

// Dispatch services queued reads across every node up to MAXDRSLOTS
// in-flight fetches, skipping nodes still under an overquota hold or
// whose backoff has not yet fired (§4.6). Slot selection happens under
// the engine lock; the actual URL/fetch calls run outside it so their
// completion callbacks (sync or async) can safely re-lock.
func (e *Engine) Dispatch() {
	type job struct {
		n *DirectReadNode
		r *Read
	}
	var jobs []job
	var cancelled []*Read

	e.mu.Lock()
	now := e.clock.Now()
	for _, n := range e.nodes {
		for e.totalSlots < MAXDRSLOTS && len(n.queue) > 0 {
			if n.overquotaUntil != 0 && now < n.overquotaUntil {
				break
			}
			if n.backoff != nil && !n.backoff.Armed() {
				break
			}
			r := n.queue[0]
			n.queue = n.queue[1:]
			if r.cancelled {
				cancelled = append(cancelled, r)
				continue
			}
			n.activeSlots++
			e.totalSlots++
			jobs = append(jobs, job{n, r})
		}
	}
	e.mu.Unlock()

	for _, r := range cancelled {
		r.Complete(nil, errIncomplete())
	}
	for _, j := range jobs {
		e.serviceRead(j.n, j.r)
	}
}

func (e *Engine) serviceRead(n *DirectReadNode, r *Read) {
	if urls, ok := e.cachedURLs(n); ok {
		e.fetch(n, r, urls[0])
		return
	}
	e.source.RequestReadURLs(n, func(urls []string, retryInSecs int, err error) {
		if err != nil {
			e.mu.Lock()
			e.releaseSlot(n)
			e.applyErrorPolicy(n, r, retryInSecs, err)
			e.mu.Unlock()
			return
		}
		e.mu.Lock()
		e.urls.Add(n.Key, urlCacheEntry{urls: urls, fetchedAt: e.clock.Now()})
		e.mu.Unlock()
		e.fetch(n, r, urls[0])
	})
}

func (e *Engine) cachedURLs(n *DirectReadNode) ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.urls.Get(n.Key)
	if !ok {
		return nil, false
	}
	entry := v.(urlCacheEntry)
	if e.clock.Now()-entry.fetchedAt > urlCacheTTL {
		e.urls.Remove(n.Key)
		return nil, false
	}
	return entry.urls, true
}

func (e *Engine) fetch(n *DirectReadNode, r *Read, url string) {
	e.fetcher.FetchChunk(url, r.Offset, r.Count, func(data []byte, retryInSecs int, err error) {
		e.mu.Lock()
		e.releaseSlot(n)
		if err != nil {
			e.applyErrorPolicy(n, r, retryInSecs, err)
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		r.Complete(data, nil)
	})
}

// releaseSlot must be called with e.mu held.
func (e *Engine) releaseSlot(n *DirectReadNode) {
	n.activeSlots--
	e.totalSlots--
}
