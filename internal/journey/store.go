package journey

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/pagination"
)

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 50

// MaxListLimit is the largest page the API serves.
const MaxListLimit = 500

// ListFilter narrows List results. A zero State matches every state.
// A non-nil After skips every journey up to and including the cursor.
type ListFilter struct {
	State State
	Limit int
	After *pagination.Cursor
}

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit+1:
		// one extra row lets callers detect a further page
		return MaxListLimit + 1
	default:
		return f.Limit
	}
}

// cursorKey is the keyset position of j in List order.
func cursorKey(j *Journey) (time.Time, string) {
	return j.UpdatedAt, j.TxID.String()
}

// Store archives journeys. Save is an upsert keyed by transaction ID.
type Store interface {
	Save(ctx context.Context, j *Journey) error
	Get(ctx context.Context, txID uuid.UUID) (*Journey, error)
	// List returns journeys most recently updated first.
	List(ctx context.Context, filter ListFilter) ([]*Journey, error)
}

// selectPage applies filter to an unordered set of journeys for stores that
// cannot push it down to a query.
func selectPage(all []*Journey, filter ListFilter) []*Journey {
	result := all[:0]
	for _, j := range all {
		if filter.State != "" && j.State != filter.State {
			continue
		}
		if !filter.After.After(cursorKey(j)) {
			continue
		}
		result = append(result, j)
	}

	// Most recent first; ties broken by ID for stable output
	sort.Slice(result, func(a, b int) bool {
		if !result[a].UpdatedAt.Equal(result[b].UpdatedAt) {
			return result[a].UpdatedAt.After(result[b].UpdatedAt)
		}
		return result[a].TxID.String() < result[b].TxID.String()
	})

	if limit := filter.limit(); len(result) > limit {
		result = result[:limit]
	}
	return result
}
