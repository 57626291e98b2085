// Package cache stores serialized HTTP responses in memory with LRU eviction.
package cache

import (
	"errors"
	"time"
)

// DefaultCapacity is the number of entries a provider holds unless configured otherwise.
const DefaultCapacity = 10

// ErrClosed is returned by providers after Close.
var ErrClosed = errors.New("cache: provider closed")

// Provider is an interface for a cache provider.
// It stores and retrieves entries, which hold serialized HTTP responses.
// A provider holds at most its capacity of entries; storing a new key into a full
// provider evicts the least recently used one.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the entry for key and marks it as most recently used.
	// It also returns a boolean indicating whether the key was present.
	// Stale entries are returned too; freshness is up to the caller.
	Get(key string) (Entry, bool, error)
	// Put stores the entry under its key, replacing any previous one, and marks it as
	// most recently used. It returns the entries evicted to make room.
	Put(entry Entry) ([]Entry, error)
	// Purge removes the entry for the given key. Missing keys are not an error.
	Purge(key string) error
	// PurgeAll removes every entry.
	PurgeAll() error
	// Entries returns all entries, most recently used first.
	Entries() ([]Entry, error)
	// Len returns the number of entries.
	Len() int
	// Close releases the provider's resources.
	Close() error
}

// Entry is one stored response.
type Entry struct {
	// Key identifies the request the response answers.
	Key string `json:"key"`
	// Host and Target are the authority and request target, for logs.
	Host   string `json:"host"`
	Target string `json:"target"`
	// Date is the Date field of the stored response, used to revalidate it.
	Date string `json:"date,omitempty"`
	// RequestedAt and ReceivedAt bracket the exchange that produced the response.
	RequestedAt time.Time `json:"requestedAt"`
	ReceivedAt  time.Time `json:"receivedAt"`
	// Expires is when the entry goes stale. The zero time means never.
	Expires time.Time `json:"expires,omitempty"`
	// Bytes is the response as sent to the client, head and body.
	Bytes []byte `json:"-"`
}

// Size returns the number of stored response bytes.
func (e Entry) Size() int {
	return len(e.Bytes)
}

// Stale reports whether the entry has expired at now.
func (e Entry) Stale(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}
