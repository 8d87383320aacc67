package axdp

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the spec.md §6 default capability-cache lifetime.
const DefaultCacheTTL = 24 * time.Hour

// StationKey identifies a peer by uppercased callsign and SSID.
type StationKey struct {
	Callsign string
	SSID     uint8
}

func NewStationKey(callsign string, ssid uint8) StationKey {
	return StationKey{Callsign: strings.ToUpper(callsign), SSID: ssid}
}

type cacheEntry struct {
	capability Capability
	timestamp  time.Time
}

// Cache maps (callsign, ssid) to a cached, opportunistically-learned
// Capability with a TTL; expired entries read as absent. Grounded on
// doismellburning/samoyed's src/dedupe.go time-keyed suppression idiom,
// adapted from "have we seen this recently" to "what did this peer last
// advertise."
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[StationKey]cacheEntry
}

// NewCache returns an empty Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[StationKey]cacheEntry)}
}

// Store records cap as having been observed from key at now.
func (c *Cache) Store(key StationKey, cap Capability, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{capability: cap, timestamp: now}
}

// Get returns the cached capability for key, or ok=false if absent or
// expired as of now.
func (c *Cache) Get(key StationKey, now time.Time) (cap Capability, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		return Capability{}, false
	}

	if now.Sub(entry.timestamp) > c.ttl {
		delete(c.entries, key)
		return Capability{}, false
	}

	return entry.capability, true
}

// Evict explicitly removes key from the cache.
func (c *Cache) Evict(key StationKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Snapshot returns every non-expired entry keyed by its station's display
// string (CALL or CALL-SSID), for UI/observer reporting.
func (c *Cache) Snapshot(now time.Time) map[string]Capability {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Capability, len(c.entries))

	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			continue
		}

		out[key.String()] = entry.capability
	}

	return out
}

// String renders a StationKey the same way ax25.Address does: CALL, or
// CALL-SSID when the SSID is non-zero.
func (k StationKey) String() string {
	if k.SSID == 0 {
		return k.Callsign
	}

	return k.Callsign + "-" + strconv.Itoa(int(k.SSID))
}
