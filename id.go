/*
Package itemstore – ID helpers.

Convenience generators for callers that need unique item keys. Sortable IDs
put newest-last ordering on a sort key without a separate timestamp field.
*/
package itemstore

import (
	"time"

	"github.com/cloudxsgmbh/dynamodb-itemstore-go/internal/uid"
)

// NewID returns a 10-character crypto-random identifier.
func NewID() string {
	return uid.Random(10)
}

// NewSortableID returns a 26-character identifier that sorts by creation
// time at millisecond resolution.
func NewSortableID() string {
	return uid.Sortable()
}

// IDTime extracts the creation time from a sortable identifier.
func IDTime(id string) (time.Time, error) {
	ms, err := uid.Timestamp(id)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
