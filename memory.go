package sassplay

import (
	"fmt"
	"sync"
)

// hostBuffer is emulated device memory.
type hostBuffer struct {
	data  []float32
	id    uint64
	freed bool
}

func (b *hostBuffer) Len() int { return len(b.data) }

// MemoryPool tracks emulated device allocations. Freed memory is returned
// to the Go heap; nothing is kept for reuse, so no run can observe another
// run's buffers.
type MemoryPool struct {
	mu        sync.Mutex
	allocated map[uint64]*hostBuffer
	nextID    uint64
	liveBytes int64
	peakBytes int64
}

// NewMemoryPool creates a new memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uint64]*hostBuffer),
	}
}

// Allocate allocates n zeroed float32 elements.
func (mp *MemoryPool) Allocate(n int) (*hostBuffer, error) {
	if n <= 0 {
		return nil, NewInvalidArgError("Alloc", fmt.Sprintf("size must be positive, got %d", n))
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.nextID++
	buf := &hostBuffer{data: make([]float32, n), id: mp.nextID}
	mp.allocated[buf.id] = buf

	mp.liveBytes += int64(n) * 4
	if mp.liveBytes > mp.peakBytes {
		mp.peakBytes = mp.liveBytes
	}
	return buf, nil
}

// Free releases an allocation.
func (mp *MemoryPool) Free(buf *hostBuffer) error {
	if buf == nil {
		return nil
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if buf.freed {
		return ErrDoubleFree
	}
	if _, ok := mp.allocated[buf.id]; !ok {
		return NewMemoryError("Free", "buffer not owned by this pool", nil)
	}
	delete(mp.allocated, buf.id)
	buf.freed = true
	mp.liveBytes -= int64(len(buf.data)) * 4
	buf.data = nil
	return nil
}

// Live returns the number of outstanding allocations.
func (mp *MemoryPool) Live() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.allocated)
}

// Stats returns live and peak allocated bytes.
func (mp *MemoryPool) Stats() (live, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.liveBytes, mp.peakBytes
}
