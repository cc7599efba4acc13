// internal/common/storage/repository.go
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("storage: key not found")

// Repository is the durable key-value contract every service persists
// through. Values are opaque JSON blobs keyed by record id. A zero TTL
// means no expiry.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// PutIfAbsent atomically inserts the value only when the key does not
	// exist, reporting whether the insert happened. Used for the
	// escalation cooldown check-and-set.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// List returns all entries whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

// Well-known key prefixes.
const (
	KeyDeliveryResult     = "delivery:result:"
	KeyDeliveryPending    = "delivery:pending:"
	KeyEscalationRecord   = "escalation:record:"
	KeyEscalationActive   = "escalation:active:"
	KeyFamilyNotification = "family:notification:"
	KeyPatientStats       = "analytics:patient:"
)
