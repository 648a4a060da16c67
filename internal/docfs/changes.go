package docfs

import (
	"sort"
	"sync"
)

type ChangeType int

const (
	ChangeChanged ChangeType = iota + 1
	ChangeCreated
	ChangeDeleted
)

func (t ChangeType) String() string {
	switch t {
	case ChangeChanged:
		return "changed"
	case ChangeCreated:
		return "created"
	case ChangeDeleted:
		return "deleted"
	}
	return "unknown"
}

type ChangeEvent struct {
	Type    ChangeType
	Address string
}

type Listener func(events []ChangeEvent)

// Changes broadcasts change events to the listeners registered at fire
// time. Delivery is synchronous and nothing is replayed.
type Changes struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
	closed    bool
}

func NewChanges() *Changes {
	return &Changes{listeners: map[uint64]Listener{}}
}

// OnDidChange registers listener and returns a func that removes it.
func (c *Changes) OnDidChange(listener Listener) (dispose func()) {
	if listener == nil {
		return func() {}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Changes) Fire(events ...ChangeEvent) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	snapshot := make([]Listener, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		snapshot = append(snapshot, c.listeners[id])
	}
	c.mu.Unlock()

	for _, listener := range snapshot {
		batch := make([]ChangeEvent, len(events))
		copy(batch, events)
		listener(batch)
	}
}

// Close drops every listener. Later Fire and OnDidChange calls are no-ops.
func (c *Changes) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listeners = map[uint64]Listener{}
}

func (c *Changes) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}
