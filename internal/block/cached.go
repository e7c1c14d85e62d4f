package block

import (
	"fmt"

	"github.com/litedb/litedb/internal/lru"
)

// DefaultCachePages and DefaultPageSize describe the default Cached backend
// shape named in spec §6: 128 pages of 16 KiB each.
const (
	DefaultCachePages = 128
	DefaultPageSize   = 16 * 1024
)

// pageCache is the admission policy CachedBackend delegates slot
// assignment to: either a plain lru.LRU (every touch admits) or an
// lru.LRUK (a touch only admits on the K-th repeat). Push's bool return
// tells the backend whether the touch actually earned a slot at all.
type pageCache interface {
	Peek(key int64) (int, bool)
	Refresh(key int64) (int, bool)
	Push(key int64) (int, bool)
	Capacity() int
}

// lruAdapter makes lru.LRU satisfy pageCache: a plain LRU always admits,
// so Push's second return is unconditionally true.
type lruAdapter struct{ *lru.LRU[int64] }

func (a lruAdapter) Push(key int64) (int, bool) { return a.LRU.Push(key), true }

// Policy selects the replacement policy a CachedBackend's page cache uses.
type Policy int

const (
	// PolicyLRU is a plain least-recently-used cache: every touch admits.
	PolicyLRU Policy = iota
	// PolicyLRUK admits a page only after its K-th touch (spec §4.7's
	// LRU-K), trading a cold-page write-through for resistance to
	// single-scan pollution of the cache.
	PolicyLRUK
)

// CachedBackend interposes a page cache of fixed-size buffers in front of
// another Backend. Reads below the miss consult the cache first; on a
// miss, if the page lies within the underlying backend's current size, a
// full page is loaded from it. Under PolicyLRU every load is admitted into
// a slot; under PolicyLRUK a load that hasn't yet reached its K-th touch is
// read straight from inner into a scratch buffer instead, so a single
// sequential scan cannot evict genuinely hot pages. Writes always go
// write-through to the underlying backend, and additionally patch the
// in-cache copy when the page is already resident.
//
// Reads and writes that straddle a page boundary are split and recursed at
// the next page edge, exactly like the underlying paged file system
// expects of any Backend it's handed (grounded on pager.go's PageBufferPool,
// generalized from a pointer-linked map to the fixed lru.LRU array).
type CachedBackend struct {
	inner    Backend
	pageSize int64
	cache    pageCache // page index -> slot
	slots    [][]byte
}

// CachedConfig configures a CachedBackend.
type CachedConfig struct {
	PageSize  int    // 0 = DefaultPageSize
	PageCount int    // 0 = DefaultCachePages
	Policy    Policy // 0 = PolicyLRU
	K         int    // touches required to admit under PolicyLRUK; 0 = DefaultLRUK
}

// DefaultLRUK is the admission threshold used when CachedConfig.K is left
// at zero under PolicyLRUK.
const DefaultLRUK = 2

// NewCached wraps inner with a page cache.
func NewCached(inner Backend, cfg CachedConfig) *CachedBackend {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	n := cfg.PageCount
	if n == 0 {
		n = DefaultCachePages
	}
	slots := make([][]byte, n)
	for i := range slots {
		slots[i] = make([]byte, ps)
	}

	var cache pageCache
	if cfg.Policy == PolicyLRUK {
		k := cfg.K
		if k == 0 {
			k = DefaultLRUK
		}
		cache = lru.NewK[int64](n, k)
	} else {
		cache = lruAdapter{lru.New[int64](n)}
	}

	return &CachedBackend{
		inner:    inner,
		pageSize: int64(ps),
		cache:    cache,
		slots:    slots,
	}
}

func (c *CachedBackend) pageOf(off int64) (pageIdx, inPage int64) {
	return off / c.pageSize, off % c.pageSize
}

// ReadAt serves page-aligned spans from the cache, splitting any request
// that crosses a page boundary into page-sized recursive calls.
func (c *CachedBackend) ReadAt(p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	pageIdx, inPage := c.pageOf(off)
	room := c.pageSize - inPage
	if int64(len(p)) > room {
		if err := c.ReadAt(p[:room], off); err != nil {
			return err
		}
		return c.ReadAt(p[room:], off+room)
	}

	buf, err := c.loadPage(pageIdx)
	if err != nil {
		return err
	}
	copy(p, buf[inPage:inPage+int64(len(p))])
	return nil
}

// loadPage returns the cached buffer for pageIdx, populating it from the
// underlying backend on a miss (when the page lies below the backend's
// current size — pages beyond the end, and the part of a page past the
// end, simply read as zero, matching a freshly allocated, not-yet-flushed
// page). A failed read leaves the cache untouched.
func (c *CachedBackend) loadPage(pageIdx int64) ([]byte, error) {
	if slot, ok := c.cache.Refresh(pageIdx); ok {
		return c.slots[slot], nil
	}

	buf := make([]byte, c.pageSize)
	start := pageIdx * c.pageSize
	if size := c.inner.Size(); start < size {
		n := min(c.pageSize, size-start)
		if err := c.inner.ReadAt(buf[:n], start); err != nil {
			return nil, fmt.Errorf("block: cached load page %d: %w", pageIdx, err)
		}
	}

	slot, admitted := c.cache.Push(pageIdx)
	if !admitted {
		// PolicyLRUK rejected this touch: serve the page without
		// occupying a slot, so a cold scan can't evict hot pages.
		return buf, nil
	}
	copy(c.slots[slot], buf)
	return c.slots[slot], nil
}

// WriteAt always writes through to the underlying backend; if the page is
// already cache-resident, the in-cache copy is patched too so subsequent
// reads see the update without a round trip.
func (c *CachedBackend) WriteAt(p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	pageIdx, inPage := c.pageOf(off)
	room := c.pageSize - inPage
	if int64(len(p)) > room {
		if err := c.WriteAt(p[:room], off); err != nil {
			return err
		}
		return c.WriteAt(p[room:], off+room)
	}

	if err := c.inner.WriteAt(p, off); err != nil {
		return err
	}
	if slot, ok := c.cache.Peek(pageIdx); ok {
		copy(c.slots[slot][inPage:inPage+int64(len(p))], p)
	}
	return nil
}

func (c *CachedBackend) Size() int64 { return c.inner.Size() }

func (c *CachedBackend) Sync() error { return c.inner.Sync() }

func (c *CachedBackend) Close() error { return c.inner.Close() }
