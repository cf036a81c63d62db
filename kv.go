package helpdesk

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
)

// ErrNotFound is returned by a KeyValueStore when a key is missing or expired.
var ErrNotFound = errm.New("not found")

// KeyValueStore is the only persistence the helpdesk needs.
// Every implementation must make SetIfAbsent and Increment atomic across processes,
// because they are used as distributed locks, idempotency markers and sequences.
// A zero ttl means the key never expires.
type KeyValueStore interface {
	// Get returns the value of the key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores the value, overwriting any previous one.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent stores the value only if the key does not exist and reports whether it was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Increment atomically adds one to the integer stored at key and returns the new value.
	// Missing key is treated as zero.
	Increment(ctx context.Context, key string) (int64, error)
}

// Key builders. They are the storage layout shared by every backend.
const (
	keyLanguage     = "lang:"
	keyTicket       = "ticket:"
	keyThread       = "topic:"
	keyLink         = "map:"
	keySequence     = "ticket:seq"
	keyRate         = "rl:"
	keyRateNotify   = "rln:"
	keyAck          = "ack:"
	keyUpdate       = "upd:"
	keyStartPayload = "startp:"
	keyLock         = "lock:ticket:"
	keyClosed       = "closed:"
	keyUserActivity = "act:u:"
	keySuppActivity = "act:s:"
	keyFallback     = "fallback:threads"
)

func i64(v int64) string { return strconv.FormatInt(v, 10) }

func languageKey(userID int64) string { return keyLanguage + i64(userID) }
func ticketKey(userID int64) string { return keyTicket + i64(userID) }
func threadKey(threadID int) string { return keyThread + strconv.Itoa(threadID) }
func rateKey(userID int64) string { return keyRate + i64(userID) }
func rateNotifyKey(userID int64) string { return keyRateNotify + i64(userID) }
func ackKey(userID int64) string { return keyAck + i64(userID) }
func updateKey(eventID string) string { return keyUpdate + eventID }
func startPayloadKey(userID int64) string { return keyStartPayload + i64(userID) }
func lockKey(userID int64) string { return keyLock + i64(userID) }
func closedKey(ticketNo int64) string { return keyClosed + i64(ticketNo) }
func userActivityKey(ticketNo int64) string { return keyUserActivity + i64(ticketNo) }
func supportActivityKey(ticketNo int64) string { return keySuppActivity + i64(ticketNo) }

func linkKey(chatID int64, messageID int) string {
	return keyLink + i64(chatID) + ":" + strconv.Itoa(messageID)
}

// MemoryStore is an in-process KeyValueStore. It is atomic within one process only,
// so it fits a single instance deployment and tests.
type MemoryStore struct {
	items map[string]memoryItem
	mu    sync.Mutex
	now   func() time.Time
}

type memoryItem struct {
	value   string
	expires time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key)
	if !ok {
		return "", ErrNotFound
	}
	return item.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = s.newItem(value, ttl)
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.items[key] = s.newItem(value, ttl)
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	item, ok := s.lookup(key)
	if ok {
		var err error
		n, err = strconv.ParseInt(item.value, 10, 64)
		if err != nil {
			return 0, errm.Wrap(err, "value is not an integer", "key", key)
		}
	}
	n++
	item.value = i64(n)
	s.items[key] = item

	return n, nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for k := range s.items {
		if _, ok := s.lookup(k); ok {
			n++
		}
	}
	return n
}

func (s *MemoryStore) lookup(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (s *MemoryStore) newItem(value string, ttl time.Duration) memoryItem {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expires = s.now().Add(ttl)
	}
	return item
}
