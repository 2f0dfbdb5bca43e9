package optrace

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// RotatingIDAllocator hands out sequential, zero-padded operation IDs which
// wrap around to zero once the limit is reached. IDs are unique within a
// session for any realistic log buffer size, since the buffer is orders of
// magnitude smaller than the rotation period.
type RotatingIDAllocator struct {
	mtx   sync.Mutex
	next  uint64
	limit uint64
	width int
}

const defaultIDLimit = 10000

// NewRotatingIDAllocator returns an allocator which rotates at the given
// limit. A limit below 10 is raised to the default of 10000.
func NewRotatingIDAllocator(limit uint64) *RotatingIDAllocator {
	if limit < 10 {
		limit = defaultIDLimit
	}
	return &RotatingIDAllocator{
		limit: limit,
		width: len(fmt.Sprint(limit - 1)),
	}
}

// Next returns the next ID, zero-padded to a fixed width.
func (a *RotatingIDAllocator) Next() string {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	id := a.next
	a.next += 1
	if a.next >= a.limit {
		a.next = 0
	}

	return fmt.Sprintf("%0*d", a.width, id)
}

var sessionIDEntropy = ulid.DefaultEntropy()

// newSessionID returns a fresh session identifier. Session IDs are ULIDs,
// using a default monotonic source of entropy.
func newSessionID() string {
	return ulid.MustNew(ulid.Now(), sessionIDEntropy).String()
}
