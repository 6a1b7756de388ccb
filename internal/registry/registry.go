// Package registry publishes live session stats so several service
// instances can be observed from one place.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/vehiclecount/internal/session"
)

// ErrNotFound is returned when no live record has the requested id.
var ErrNotFound = errors.New("registry: session not found")

// Record is one slot's published state.
type Record struct {
	ID        string        `json:"id"`
	Instance  string        `json:"instance"`
	Stats     session.Stats `json:"stats"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// RecordID names a slot of an instance.
func RecordID(instance string, slot int) string {
	return fmt.Sprintf("%s:%d", instance, slot)
}

// Registry stores live records with a TTL. Records that are not refreshed
// expire on their own.
type Registry interface {
	// Publish creates or replaces a record and refreshes its TTL.
	Publish(ctx context.Context, rec *Record) error

	// Heartbeat refreshes the TTL and UpdatedAt of an existing record.
	Heartbeat(ctx context.Context, id string) error

	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Record, error)

	// List returns every unexpired record.
	List(ctx context.Context) ([]*Record, error)

	Close() error
}
