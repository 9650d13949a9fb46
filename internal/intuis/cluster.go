package intuis

import (
	"sync"
	"time"
)

type endpointHealth int

const (
	endpointHealthy endpointHealth = iota
	endpointSuspected
	endpointDown
)

type endpoint struct {
	baseURL   string
	health    endpointHealth
	failures  int
	downUntil time.Time
}

// clusterPool selects which cluster endpoint to use. Endpoints are tried in
// priority order; the last endpoint that served a successful call stays
// sticky until it fails. An endpoint failing failureLimit consecutive times
// is taken down for coolDown before it is offered again.
type clusterPool struct {
	lock         sync.Mutex
	endpoints    []endpoint
	current      int
	failureLimit int
	coolDown     time.Duration
}

func newClusterPool(baseURLs []string) *clusterPool {
	p := clusterPool{
		endpoints:    make([]endpoint, 0, len(baseURLs)),
		failureLimit: 3,
		coolDown:     5 * time.Minute,
	}
	for _, u := range baseURLs {
		p.endpoints = append(p.endpoints, endpoint{baseURL: u})
	}
	return &p
}

// pick returns the base URL to use for the next call: the sticky endpoint if
// it's usable, otherwise the next usable one in priority order (wrapping
// around). Returns false if every endpoint is in its cool-down window.
func (p *clusterPool) pick(now time.Time) (string, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	for i := range p.endpoints {
		idx := (p.current + i) % len(p.endpoints)
		ep := &p.endpoints[idx]
		if ep.health == endpointDown {
			if now.Before(ep.downUntil) {
				continue
			}
			// cool-down over: give it another chance
			ep.health = endpointSuspected
			ep.failures = 0
		}
		p.current = idx
		return ep.baseURL, true
	}
	return "", false
}

func (p *clusterPool) success(baseURL string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i := range p.endpoints {
		if p.endpoints[i].baseURL == baseURL {
			p.endpoints[i].health = endpointHealthy
			p.endpoints[i].failures = 0
			p.current = i
			return
		}
	}
}

func (p *clusterPool) failure(baseURL string, now time.Time) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i := range p.endpoints {
		ep := &p.endpoints[i]
		if ep.baseURL != baseURL {
			continue
		}
		ep.failures++
		ep.health = endpointSuspected
		if ep.failures >= p.failureLimit {
			ep.health = endpointDown
			ep.downUntil = now.Add(p.coolDown)
		}
		// fail over: next call starts at the next endpoint in priority order
		if p.current == i {
			p.current = (i + 1) % len(p.endpoints)
		}
		return
	}
}
