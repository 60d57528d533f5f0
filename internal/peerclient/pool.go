// Package peerclient implements the HTTP peer wire protocol (§6.3) the
// network block source (C4) speaks to the configured peer fleet, plus the
// connection pooling and work-stealing fetch queue (§4.4, §5) that make
// ranged parallel fetch-with-failover possible.
package peerclient

import (
	"net/http"
	"sync"
	"time"
)

// Pool hands out a keep-alive *http.Client per peer base URL, reusing
// idle transports the way the teacher's core/connection_pool.go reuses
// raw net.Conns: a per-key idle list, a background reaper closing entries
// past idleTTL, and Acquire/Release bracketing each call. An *http.Client
// already pools its own underlying connections, so what this adds on top
// is bounding how many distinct idle *http.Client/transport pairs (one
// per peer) stay warm, and closing idle transports for peers the source
// hasn't talked to in a while.
type Pool struct {
	mu        sync.Mutex
	clients   map[string]*pooledClient
	idleTTL   time.Duration
	timeout   time.Duration
	closing   chan struct{}
	closeOnce sync.Once
}

type pooledClient struct {
	client   *http.Client
	lastUsed time.Time
}

// NewPool creates a pool. timeout bounds every individual HTTP request;
// idleTTL controls how long an unused peer client is kept warm before its
// idle connections are closed.
func NewPool(timeout, idleTTL time.Duration) *Pool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if idleTTL <= 0 {
		idleTTL = 2 * time.Minute
	}
	p := &Pool{
		clients: make(map[string]*pooledClient),
		idleTTL: idleTTL,
		timeout: timeout,
		closing: make(chan struct{}),
	}
	go p.reaper()
	return p
}

// Client returns the *http.Client for peer, creating one on first use.
func (p *Pool) Client(peer string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.clients[peer]
	if !ok {
		pc = &pooledClient{client: &http.Client{Timeout: p.timeout}}
		p.clients[peer] = pc
	}
	pc.lastUsed = time.Now()
	return pc.client
}

// Close stops the reaper and closes all idle connections for every known
// peer.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, pc := range p.clients {
			pc.client.CloseIdleConnections()
		}
	})
}

func (p *Pool) reaper() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for addr, pc := range p.clients {
				if pc.lastUsed.Before(cutoff) {
					pc.client.CloseIdleConnections()
					delete(p.clients, addr)
				}
			}
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}
