package rangefetch

import (
	"container/list"
	"sync"
)

// chunkCache is a small LRU of recently-fetched byte ranges keyed by aligned
// block offset, grounded on the block-aligned cache in the reference range
// loader this component's probe/fetch contract was modeled on. A PDF
// decoder's access pattern is re-entrant (xref table, object streams,
// metadata re-reads), so caching the handful of blocks it revisits avoids
// re-downloading them within the same convert call.
type chunkCache struct {
	mu        sync.Mutex
	blockSize int64
	capacity  int
	ll        *list.List
	index     map[int64]*list.Element
}

type cacheEntry struct {
	block int64
	data  []byte
}

func newChunkCache(capacityBlocks int, blockSize int64) *chunkCache {
	return &chunkCache{
		blockSize: blockSize,
		capacity:  capacityBlocks,
		ll:        list.New(),
		index:     make(map[int64]*list.Element),
	}
}

// put stores data starting at byte offset start, split across aligned
// blocks.
func (c *chunkCache) put(start int64, data []byte) {
	if len(data) == 0 || c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	firstBlock := start / c.blockSize
	for off := int64(0); off < int64(len(data)); {
		block := firstBlock + off/c.blockSize
		blockStart := block * c.blockSize
		begin := (start + off) - blockStart
		end := c.blockSize
		if remaining := int64(len(data)) - off; begin+remaining < end {
			end = begin + remaining
		}
		chunk := make([]byte, end)
		if begin > 0 {
			// The block's bytes before begin must come from an existing
			// entry; without one they would read back as zeros in get.
			el, ok := c.index[block]
			if !ok || int64(len(el.Value.(*cacheEntry).data)) < begin {
				off += end - begin
				continue
			}
			prev := el.Value.(*cacheEntry).data
			if int64(len(prev)) > end {
				chunk = make([]byte, len(prev))
			}
			copy(chunk, prev)
		}
		copy(chunk[begin:end], data[off:off+(end-begin)])
		c.insert(block, chunk)
		off += end - begin
	}
}

func (c *chunkCache) insert(block int64, data []byte) {
	if el, ok := c.index[block]; ok {
		el.Value.(*cacheEntry).data = data
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{block: block, data: data})
	c.index[block] = el
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*cacheEntry).block)
	}
}

// get returns the bytes for [start, end] only if every aligned block in that
// range is already cached; a partial hit is reported as a miss so the caller
// falls back to a single network fetch rather than stitching across a cache
// boundary.
func (c *chunkCache) get(start, end int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	firstBlock := start / c.blockSize
	lastBlock := end / c.blockSize
	out := make([]byte, 0, end-start+1)
	for block := firstBlock; block <= lastBlock; block++ {
		el, ok := c.index[block]
		if !ok {
			return nil, false
		}
		entry := el.Value.(*cacheEntry)
		blockStart := block * c.blockSize
		begin := int64(0)
		if start > blockStart {
			begin = start - blockStart
		}
		blockEnd := int64(len(entry.data))
		if end < blockStart+blockEnd-1 {
			blockEnd = end - blockStart + 1
		}
		if begin >= int64(len(entry.data)) || blockEnd > int64(len(entry.data)) || begin > blockEnd {
			return nil, false
		}
		out = append(out, entry.data[begin:blockEnd]...)
		c.ll.MoveToFront(el)
	}
	if int64(len(out)) != end-start+1 {
		return nil, false
	}
	return out, true
}
