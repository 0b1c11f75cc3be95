package session

import (
	"container/list"
	"sync"
	"time"
)

// refreshCache is a bounded LRU with TTL, keyed by the expired access
// token. It remembers refresh outcomes so a burst of requests carrying the
// same stale cookie does not hammer the identity authority, and so a token
// the authority already rejected is not re-tried until the entry ages out.
type refreshCache struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	items map[string]*list.Element
	lru   *list.List
}

type refreshOutcome struct {
	oldToken string
	cookie   string // re-issued cookie on success
	ok       bool
	expiry   time.Time
}

func newRefreshCache(capacity int, ttl time.Duration) *refreshCache {
	if capacity <= 0 {
		capacity = 10_000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &refreshCache{
		cap:   capacity,
		ttl:   ttl,
		items: make(map[string]*list.Element, capacity/2),
		lru:   list.New(),
	}
}

func (c *refreshCache) get(oldToken string, now time.Time) (cookie string, ok bool, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.items[oldToken]; found {
		val := el.Value.(*refreshOutcome)
		if now.Before(val.expiry) {
			c.lru.MoveToFront(el)
			return val.cookie, val.ok, true
		}
		delete(c.items, oldToken)
		c.lru.Remove(el)
	}
	return "", false, false
}

func (c *refreshCache) put(oldToken, cookie string, ok bool, now time.Time) {
	val := &refreshOutcome{
		oldToken: oldToken,
		cookie:   cookie,
		ok:       ok,
		expiry:   now.Add(c.ttl),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.items[oldToken]; found {
		el.Value = val
		c.lru.MoveToFront(el)
		return
	}
	if c.lru.Len() >= c.cap {
		if back := c.lru.Back(); back != nil {
			del := back.Value.(*refreshOutcome)
			delete(c.items, del.oldToken)
			c.lru.Remove(back)
		}
	}
	el := c.lru.PushFront(val)
	c.items[oldToken] = el
}
