package pipeline

import "sync"

// runCache is a thread-safe LRU of open run assemblies keyed by run|quantity.
// When a put pushes it past maxEntries the least recently used assembly is
// dropped and handed to onEvict.
type runCache struct {
	maxEntries int
	onEvict    func(key string, a *runAssembly)
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *runAssembly
	prev  *entry
	next  *entry
}

func newRunCache(maxEntries int, onEvict func(string, *runAssembly)) *runCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &runCache{
		maxEntries: maxEntries,
		onEvict:    onEvict,
		entries:    make(map[string]*entry),
	}
}

func (c *runCache) get(key string) (*runAssembly, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *runCache) put(key string, value *runAssembly) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

// delete drops key without calling onEvict.
func (c *runCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.remove(e)
	}
}

func (c *runCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// values returns the cached assemblies from most to least recently used.
func (c *runCache) values() []*runAssembly {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*runAssembly, 0, len(c.entries))
	for e := c.head; e != nil; e = e.next {
		out = append(out, e.value)
	}
	return out
}

func (c *runCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *runCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *runCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *runCache) evictTail() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	delete(c.entries, victim.key)
	c.remove(victim)
	if c.onEvict != nil {
		c.onEvict(victim.key, victim.value)
	}
}
