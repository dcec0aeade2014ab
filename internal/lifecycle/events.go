package lifecycle

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	certmgr "github.com/taxpoynt/certmgr"
	bolt "go.etcd.io/bbolt"
)

// eventsBucket is the bbolt bucket holding lifecycle events, keyed by
// zero-padded nanosecond timestamp plus event id so iteration order is
// chronological.
var eventsBucket = []byte("lifecycle_events")

// memoryMirrorSize bounds the in-process mirror of recent events.
const memoryMirrorSize = 1000

// EventFilter narrows an event listing. Zero-valued fields are ignored.
type EventFilter struct {
	CertificateID string
	Action        certmgr.LifecycleAction
	Limit         int
}

// EventLog is the append-only audit sink for lifecycle events. Events
// are never mutated after Append.
type EventLog interface {
	Append(event *certmgr.LifecycleEvent) error
	List(filter EventFilter) ([]*certmgr.LifecycleEvent, error)
	Close() error
}

// BoltEventLog persists lifecycle events in a bbolt database so the
// audit trail survives restarts. A bounded in-memory mirror of the
// most recent events serves hot reads without touching disk.
type BoltEventLog struct {
	db *bolt.DB

	mu     sync.RWMutex
	recent []*certmgr.LifecycleEvent
}

// OpenBoltEventLog opens (or creates) the event database at path.
func OpenBoltEventLog(path string) (*BoltEventLog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event bucket: %w", err)
	}

	log := &BoltEventLog{db: db}
	if err := log.warmMirror(); err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

// warmMirror loads the newest events into the in-memory mirror.
func (l *BoltEventLog) warmMirror() error {
	return l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(l.recent) < memoryMirrorSize; k, v = c.Prev() {
			var event certmgr.LifecycleEvent
			if err := json.Unmarshal(v, &event); err != nil {
				continue
			}
			l.recent = append(l.recent, &event)
		}
		return nil
	})
}

// Append durably records one event. The event id and timestamp are
// assigned here if the caller left them empty.
func (l *BoltEventLog) Append(event *certmgr.LifecycleEvent) error {
	if event.EventID == "" {
		event.EventID = "evt-" + uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode lifecycle event: %w", err)
	}

	key := []byte(fmt.Sprintf("%020d-%s", event.Timestamp.UnixNano(), event.EventID))
	err = l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to append lifecycle event: %w", err)
	}

	l.mu.Lock()
	l.recent = append([]*certmgr.LifecycleEvent{event}, l.recent...)
	if len(l.recent) > memoryMirrorSize {
		l.recent = l.recent[:memoryMirrorSize]
	}
	l.mu.Unlock()

	return nil
}

// List returns events newest-first, filtered by certificate id and
// action. Listings within the mirror window are served from memory;
// larger ones fall through to the database.
func (l *BoltEventLog) List(filter EventFilter) ([]*certmgr.LifecycleEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	mirrorFull := len(l.recent) >= memoryMirrorSize
	var out []*certmgr.LifecycleEvent
	for _, event := range l.recent {
		if matchesFilter(event, filter) {
			out = append(out, event)
			if len(out) == limit {
				break
			}
		}
	}
	l.mu.RUnlock()

	if len(out) == limit || !mirrorFull {
		return out, nil
	}

	// The mirror may not hold enough matching history; rescan.
	out = out[:0]
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var event certmgr.LifecycleEvent
			if err := json.Unmarshal(v, &event); err != nil {
				continue
			}
			if matchesFilter(&event, filter) {
				out = append(out, &event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (l *BoltEventLog) Close() error {
	return l.db.Close()
}

func matchesFilter(event *certmgr.LifecycleEvent, filter EventFilter) bool {
	if filter.CertificateID != "" && event.CertificateID != filter.CertificateID {
		return false
	}
	if filter.Action != "" && event.Action != filter.Action {
		return false
	}
	return true
}
