package sassplay

import (
	"errors"
	"testing"
)

func TestMemoryPool(t *testing.T) {
	mp := NewMemoryPool()

	a, err := mp.Allocate(256)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := mp.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.Len() != 256 || b.Len() != 128 {
		t.Errorf("Len = %d, %d", a.Len(), b.Len())
	}
	if got := mp.Live(); got != 2 {
		t.Errorf("Live = %d, want 2", got)
	}

	if err := mp.Free(a); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := mp.Free(a); !errors.Is(err, ErrDoubleFree) {
		t.Errorf("second Free = %v, want ErrDoubleFree", err)
	}
	if err := mp.Free(b); err != nil {
		t.Fatalf("Free: %v", err)
	}

	live, peak := mp.Stats()
	if live != 0 {
		t.Errorf("live bytes = %d, want 0", live)
	}
	if peak != (256+128)*4 {
		t.Errorf("peak bytes = %d, want %d", peak, (256+128)*4)
	}
}

func TestMemoryPoolRejects(t *testing.T) {
	mp := NewMemoryPool()
	for _, n := range []int{0, -1} {
		if _, err := mp.Allocate(n); !IsInvalidArgError(err) {
			t.Errorf("Allocate(%d) = %v, want invalid argument", n, err)
		}
	}

	other := NewMemoryPool()
	buf, _ := other.Allocate(4)
	if err := mp.Free(buf); !IsMemoryError(err) {
		t.Errorf("foreign Free = %v, want memory error", err)
	}
}

func TestAllocationsAreFresh(t *testing.T) {
	mp := NewMemoryPool()
	a, _ := mp.Allocate(8)
	a.data[0] = 42
	_ = mp.Free(a)

	b, _ := mp.Allocate(8)
	if b.data[0] != 0 {
		t.Errorf("new allocation observed stale value %v", b.data[0])
	}
}
