package parallel

import (
	"sync"
	"testing"
)

func TestNewMask_Invalid(t *testing.T) {
	if m := NewMask(0); m != nil {
		t.Error("NewMask(0) should return nil")
	}
	if m := NewMask(-1); m != nil {
		t.Error("NewMask(-1) should return nil")
	}
}

func TestMask_SetHas(t *testing.T) {
	m := NewMask(130)

	if !m.Set(0) || !m.Set(64) || !m.Set(129) {
		t.Fatal("Set on empty bit should report newly added")
	}
	if m.Set(64) {
		t.Error("second Set(64) should report already present")
	}
	for _, idx := range []int{0, 64, 129} {
		if !m.Has(idx) {
			t.Errorf("Has(%d) = false, want true", idx)
		}
	}
	if m.Has(1) || m.Has(130) || m.Has(-1) {
		t.Error("Has reported unset or out-of-range index")
	}
	if m.Set(130) {
		t.Error("Set(130) out of range should be ignored")
	}
	if m.Count() != 3 {
		t.Errorf("Count() = %d, want 3", m.Count())
	}
}

func TestMask_FullAndReset(t *testing.T) {
	m := NewMask(70)
	for i := range 70 {
		m.Set(i)
	}
	if !m.Full() {
		t.Errorf("Full() = false after setting all %d bits", m.Len())
	}

	m.Reset()
	if m.Count() != 0 {
		t.Errorf("Count() after Reset = %d, want 0", m.Count())
	}
}

func TestMask_ForEachMissing(t *testing.T) {
	m := NewMask(67)
	for i := range 67 {
		if i != 3 && i != 65 {
			m.Set(i)
		}
	}

	var missing []int
	m.ForEachMissing(func(idx int) { missing = append(missing, idx) })

	if len(missing) != 2 || missing[0] != 3 || missing[1] != 65 {
		t.Errorf("ForEachMissing = %v, want [3 65]", missing)
	}
}

func TestMask_ConcurrentSet(t *testing.T) {
	m := NewMask(1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for i := range 1000 {
				if (i+g)%2 == 0 && m.Set(i) {
					n++
				}
			}
			mu.Lock()
			added += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Each index is claimed by exactly one goroutine.
	if added != 1000 {
		t.Errorf("newly-added count = %d, want 1000", added)
	}
	if !m.Full() {
		t.Error("mask should be full")
	}
}
