package tier

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
)

// ForeignArena holds foreign identities in memory only. It is bounded by
// count and by age; when full the entry first seen earliest is evicted.
// Records handed out are always clones.
type ForeignArena struct {
	mu       sync.Mutex
	capacity int
	maxAge   time.Duration
	entries  map[string]*arenaItem
	order    arenaHeap
	clock    func() time.Time
}

type arenaItem struct {
	rec   *identity.Identity
	index int
}

// arenaHeap is a min-heap on FirstSeen, ties broken by id.
type arenaHeap []*arenaItem

func (h arenaHeap) Len() int { return len(h) }

func (h arenaHeap) Less(i, j int) bool {
	a, b := h[i].rec, h[j].rec
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.Before(b.FirstSeen)
	}
	return a.ID < b.ID
}

func (h arenaHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *arenaHeap) Push(x any) {
	item := x.(*arenaItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *arenaHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// NewForeignArena creates an arena. Non-positive capacity means 1;
// non-positive maxAge disables age eviction.
func NewForeignArena(capacity int, maxAge time.Duration) *ForeignArena {
	if capacity <= 0 {
		capacity = 1
	}
	return &ForeignArena{
		capacity: capacity,
		maxAge:   maxAge,
		entries:  make(map[string]*arenaItem),
		clock:    time.Now,
	}
}

// SetClock replaces the time source used for lazy expiry.
func (a *ForeignArena) SetClock(clock func() time.Time) {
	a.mu.Lock()
	a.clock = clock
	a.mu.Unlock()
}

// Capacity returns the maximum number of live entries.
func (a *ForeignArena) Capacity() int { return a.capacity }

// MaxAge returns the age after which entries expire.
func (a *ForeignArena) MaxAge() time.Duration { return a.maxAge }

// Put inserts or replaces rec and returns the ids evicted to make room.
func (a *ForeignArena) Put(rec *identity.Identity) ([]string, error) {
	if rec == nil || rec.Tier != identity.TierForeign {
		return nil, fmt.Errorf("%w: arena only holds foreign records", identity.ErrTierConflict)
	}
	if err := identity.ValidateID(rec.ID); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if item, ok := a.entries[rec.ID]; ok {
		item.rec = rec.Clone()
		heap.Fix(&a.order, item.index)
		return nil, nil
	}

	var evicted []string
	for len(a.entries) >= a.capacity {
		evicted = append(evicted, a.popOldest())
	}
	item := &arenaItem{rec: rec.Clone()}
	heap.Push(&a.order, item)
	a.entries[rec.ID] = item
	return evicted, nil
}

// Get returns a copy of the live entry. Expired entries are dropped.
func (a *ForeignArena) Get(id string) (*identity.Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.entries[id]
	if !ok {
		return nil, false
	}
	if a.expired(item.rec, a.clock()) {
		a.remove(item)
		return nil, false
	}
	return item.rec.Clone(), true
}

// Update applies fn to the stored record under the arena lock and returns
// a copy of the result.
func (a *ForeignArena) Update(id string, fn func(*identity.Identity)) (*identity.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.entries[id]
	if !ok || a.expired(item.rec, a.clock()) {
		if ok {
			a.remove(item)
		}
		return nil, fmt.Errorf("%w: foreign/%s", identity.ErrNotFound, id)
	}
	fn(item.rec)
	item.rec.ID = id
	item.rec.Tier = identity.TierForeign
	heap.Fix(&a.order, item.index)
	return item.rec.Clone(), nil
}

// Delete removes id and reports whether it was present.
func (a *ForeignArena) Delete(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.entries[id]
	if !ok {
		return false
	}
	a.remove(item)
	return true
}

// Cleanup evicts entries older than maxAge and then any excess over
// capacity, oldest first. It returns the evicted ids.
func (a *ForeignArena) Cleanup(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var evicted []string
	for a.order.Len() > 0 && a.expired(a.order[0].rec, now) {
		evicted = append(evicted, a.popOldest())
	}
	for len(a.entries) > a.capacity {
		evicted = append(evicted, a.popOldest())
	}
	return evicted
}

// Snapshot returns copies of all live entries sorted by id.
func (a *ForeignArena) Snapshot() []*identity.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	out := make([]*identity.Identity, 0, len(a.entries))
	for _, item := range a.entries {
		if a.expired(item.rec, now) {
			continue
		}
		out = append(out, item.rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored entries, expired or not.
func (a *ForeignArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *ForeignArena) expired(rec *identity.Identity, now time.Time) bool {
	return a.maxAge > 0 && now.Sub(rec.FirstSeen) > a.maxAge
}

func (a *ForeignArena) popOldest() string {
	item := heap.Pop(&a.order).(*arenaItem)
	delete(a.entries, item.rec.ID)
	return item.rec.ID
}

func (a *ForeignArena) remove(item *arenaItem) {
	heap.Remove(&a.order, item.index)
	delete(a.entries, item.rec.ID)
}
