package keylock

import (
	"sync"
	"testing"
)

func TestTable_SerializesSameKey(t *testing.T) {
	tbl := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := tbl.Lock("k")
			v := counter
			v++
			counter = v
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, want 0 after all unlocks", tbl.Len())
	}
}

func TestTable_IndependentKeys(t *testing.T) {
	tbl := New()
	unlockA := tbl.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := tbl.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
