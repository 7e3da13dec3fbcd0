package memory

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	PageSize          = 4096
	DefaultCachePages = 256
)

// PageCache memoizes page-sized reads from a slow Reader, such as a live
// process. Reads of unreadable pages fall through to the inner reader
// uncached.
type PageCache struct {
	inner Reader
	pages *lru.Cache[uint64, []byte]
}

// NewPageCache caches up to size pages of inner.
func NewPageCache(inner Reader, size int) (*PageCache, error) {
	if size <= 0 {
		size = DefaultCachePages
	}
	c, err := lru.New[uint64, []byte](size)
	if err != nil {
		return nil, err
	}
	return &PageCache{inner: inner, pages: c}, nil
}

func (c *PageCache) ReadMemory(buf []byte, addr uint64) error {
	for len(buf) > 0 {
		base := addr &^ (PageSize - 1)
		off := addr - base
		n := min(uint64(len(buf)), PageSize-off)

		page, ok := c.pages.Get(base)
		if !ok {
			page = make([]byte, PageSize)
			if err := c.inner.ReadMemory(page, base); err != nil {
				return c.inner.ReadMemory(buf, addr)
			}
			c.pages.Add(base, page)
		}
		copy(buf[:n], page[off:])
		buf = buf[n:]
		addr += n
	}
	return nil
}

// Segment forwards to the inner reader when it knows its segments.
func (c *PageCache) Segment(addr uint64) (Segment, bool) {
	if s, ok := c.inner.(Segmented); ok {
		return s.Segment(addr)
	}
	return Segment{}, false
}

// Invalidate drops every cached page. Call it whenever the target resumes.
func (c *PageCache) Invalidate() { c.pages.Purge() }

func (c *PageCache) Len() int { return c.pages.Len() }
