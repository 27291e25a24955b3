// Package cache implements the Session Cache: a bounded, in-memory,
// write-through mirror of the Conversation Store. It exists to avoid a
// disk round trip on every turn of an active conversation; it is never
// the system of record (see internal/store).
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/mesadeayuda/conversa/internal/store"
)

// RemoteBackend is the extension point for an out-of-process cache tier
// (e.g. Redis) shared across multiple gateway instances. The core ships
// no concrete implementation: a single-instance deployment runs with a
// nil RemoteBackend and the in-process LRU alone, per this repo's
// single-node non-goal.
type RemoteBackend interface {
	Load(conversationID string) (*store.Record, bool, error)
	Save(r *store.Record) error
}

// Cache is a fixed-capacity LRU of conversation records, backed by a
// Store for misses and write-through persistence, with an optional
// RemoteBackend consulted ahead of the Store on a local miss.
type Cache struct {
	store    store.Store
	capacity int
	remote   RemoteBackend

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

// SetRemoteBackend wires rb in as the cache's remote tier. Passing nil
// (the default) restores single-instance, Store-only behavior.
func (c *Cache) SetRemoteBackend(rb RemoteBackend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = rb
}

type entry struct {
	conversationID string
	record         *store.Record
	cachedAt       time.Time
}

// New returns a Cache of the given capacity backed by s. Capacity <= 0
// is treated as 1.
func New(s store.Store, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		store:    s,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns a clone of the record for conversationID, serving from
// memory when present and otherwise loading from the store and
// populating the cache. The cache's own pointer never leaves this
// method: callers always get a private copy to mutate, so two handlers
// reading the same entry never race on each other's writes (spec.md
// §5: entries are not pointer-shared with in-flight handlers).
func (c *Cache) Get(conversationID string) (*store.Record, error) {
	c.mu.Lock()
	if el, ok := c.items[conversationID]; ok {
		c.ll.MoveToFront(el)
		r := el.Value.(*entry).record
		c.mu.Unlock()
		return r.Clone(), nil
	}
	remote := c.remote
	c.mu.Unlock()

	if remote != nil {
		if r, ok, err := remote.Load(conversationID); err == nil && ok {
			c.mu.Lock()
			c.insertLocked(conversationID, r)
			c.mu.Unlock()
			return r.Clone(), nil
		}
	}

	r, err := c.store.Load(conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.insertLocked(conversationID, r)
	c.mu.Unlock()
	return r.Clone(), nil
}

// Put persists r through to the store and refreshes the cache entry
// with a clone of r. Durability always wins: a cache write that isn't
// backed by a successful store save never happens. Cloning before
// caching means the caller keeps sole ownership of r after Put
// returns — mutating or discarding it afterward can't reach into the
// cache's copy.
func (c *Cache) Put(r *store.Record) error {
	if err := c.store.Save(r); err != nil {
		return err
	}

	c.mu.Lock()
	remote := c.remote
	c.insertLocked(r.ConversationID, r.Clone())
	c.mu.Unlock()

	if remote != nil {
		if err := remote.Save(r); err != nil {
			slog.Warn("cache: remote backend save failed", "conversation_id", r.ConversationID, "error", err)
		}
	}
	return nil
}

// Invalidate drops conversationID from the cache without touching the
// store. Used when a record is known stale, e.g. after an out-of-band
// migration.
func (c *Cache) Invalidate(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[conversationID]; ok {
		c.ll.Remove(el)
		delete(c.items, conversationID)
	}
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) insertLocked(conversationID string, r *store.Record) {
	if el, ok := c.items[conversationID]; ok {
		el.Value.(*entry).record = r
		el.Value.(*entry).cachedAt = time.Now()
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{conversationID: conversationID, record: r, cachedAt: time.Now()})
	c.items[conversationID] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).conversationID)
	}
}
