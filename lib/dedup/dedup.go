package dedup

import (
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// how long a transport id is remembered. retried deliveries of one
// message arrive within minutes; after expiry a reused id counts as a
// genuinely new message.
const DefaultTTL = time.Hour

type entry struct {
	Subject   string          `json:"subject"`
	Addressed map[string]bool `json:"addressed"`
	Seen      time.Time       `json:"seen"`
}

// expiring cache of transport ids used to suppress reprocessing the
// same inbound delivery for addresses already resolved.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*entry
	now     func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// look up a transport id, registering it if unseen. returns whether
// the id is new and a copy of the addresses already resolved for it.
// the check and the registration are one critical section so two
// resolutions cannot both believe they are first.
func (c *Cache) CheckAndMark(id, subject string) (isNew bool, addressed map[string]bool) {
	addressed = make(map[string]bool)
	if id == "" {
		isNew = true
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire()
	e, ok := c.entries[id]
	if ok {
		for a := range e.Addressed {
			addressed[a] = true
		}
		return
	}
	isNew = true
	c.entries[id] = &entry{
		Subject:   subject,
		Addressed: make(map[string]bool),
		Seen:      c.now(),
	}
	return
}

// record that an address has been resolved for a transport id
func (c *Cache) MarkAddressed(id, addr string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if ok {
		e.Addressed[addr] = true
	}
}

// drop expired entries, caller holds the lock
func (c *Cache) expire() {
	cutoff := c.now().Add(-c.ttl)
	for id, e := range c.entries {
		if e.Seen.Before(cutoff) {
			delete(c.entries, id)
		}
	}
}

// load cache state saved by a previous invocation. a missing or
// unreadable file is an empty cache, not an error.
func (c *Cache) Load(fpath string) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return
	}
	entries := make(map[string]*entry)
	err = json.Unmarshal(data, &entries)
	if err != nil {
		log.Warnf("discarding unreadable dedup cache %s: %s", fpath, err.Error())
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range entries {
		if e.Addressed == nil {
			e.Addressed = make(map[string]bool)
		}
		c.entries[id] = e
	}
	c.expire()
}

// persist cache state for the next invocation
func (c *Cache) Save(fpath string) (err error) {
	c.mu.Lock()
	c.expire()
	var data []byte
	data, err = json.Marshal(c.entries)
	c.mu.Unlock()
	if err == nil {
		err = os.WriteFile(fpath, data, 0640)
	}
	return
}
