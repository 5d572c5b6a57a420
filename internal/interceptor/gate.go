package interceptor

import (
	"context"
	"sync"
)

// Gate borne le nombre d'extractions en cours. Le plafond se règle à chaud
// (SetLimit), depuis les réglages runtime.
//
// Le chemin de la page utilise TryAcquire: si la gate est pleine, l'extraction
// est abandonnée plutôt que de ralentir la réponse. Les re-fetch en tâche de
// fond peuvent attendre via Acquire.
type Gate struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	notify   chan struct{}
}

func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{limit: limit, notify: make(chan struct{})}
}

func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *Gate) SetLimit(limit int) {
	if limit <= 0 {
		limit = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limit == limit {
		return
	}
	g.limit = limit
	g.wakeLocked()
}

func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight >= g.limit {
		return false
	}
	g.inFlight++
	return true
}

func (g *Gate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.inFlight < g.limit {
			g.inFlight++
			g.mu.Unlock()
			return nil
		}
		ch := g.notify
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight > 0 {
		g.inFlight--
	}
	g.wakeLocked()
}

func (g *Gate) wakeLocked() {
	// Ferme puis recrée le channel: réveille tous les waiters.
	close(g.notify)
	g.notify = make(chan struct{})
}
