package report

import (
	"container/list"
	"context"
	"sync"
)

// Loader fetches an envelope that fell out of (or never entered) the cache.
type Loader interface {
	LoadEnvelope(ctx context.Context, runID string) (*Envelope, error)
}

// LRU keeps the most recent run envelopes in memory and falls back to a
// Loader on miss.
type LRU struct {
	mu    sync.Mutex
	cap   int
	back  Loader
	order *list.List // front is most recent
	items map[string]*list.Element
}

// NewLRU creates a cache holding up to cap envelopes. back may be nil.
func NewLRU(cap int, back Loader) *LRU {
	if cap < 1 {
		cap = 1
	}
	return &LRU{
		cap:   cap,
		back:  back,
		order: list.New(),
		items: make(map[string]*list.Element, cap),
	}
}

// Add caches env, evicting the least recently used entry when full.
func (c *LRU) Add(env *Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(env)
}

// Get returns the envelope for runID from the cache, or from the backing
// Loader, promoting loaded entries.
func (c *LRU) Get(ctx context.Context, runID string) (*Envelope, error) {
	c.mu.Lock()
	if el, ok := c.items[runID]; ok {
		c.order.MoveToFront(el)
		env := el.Value.(*Envelope)
		c.mu.Unlock()
		return env, nil
	}
	c.mu.Unlock()

	if c.back == nil {
		return nil, ErrRunNotFound
	}
	env, err := c.back.LoadEnvelope(ctx, runID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.put(env)
	c.mu.Unlock()
	return env, nil
}

// Len returns the number of cached envelopes.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU) put(env *Envelope) {
	if el, ok := c.items[env.RunID]; ok {
		el.Value = env
		c.order.MoveToFront(el)
		return
	}
	c.items[env.RunID] = c.order.PushFront(env)
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*Envelope).RunID)
	}
}
