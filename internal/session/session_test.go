package session_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/momentics/hioload-wsengine/internal/session"
)

type entry string

func (e entry) ID() string { return string(e) }

func TestRegistryAddGetDelete(t *testing.T) {
	r := session.NewRegistry[entry](3)
	if err := r.Add("a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("a"); err != session.ErrDuplicateID {
		t.Errorf("duplicate add: %v", err)
	}
	if e, ok := r.Get("a"); !ok || e != "a" {
		t.Errorf("Get = %q %v", e, ok)
	}
	if !r.Delete("a") || r.Delete("a") {
		t.Error("Delete should succeed exactly once")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := session.NewRegistry[entry](16)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := entry(fmt.Sprintf("%d-%d", w, i))
				if err := r.Add(id); err != nil {
					t.Error(err)
					return
				}
				if i%2 == 0 {
					r.Delete(string(id))
				}
			}
		}(w)
	}
	wg.Wait()
	if r.Len() != 8*250 {
		t.Fatalf("Len = %d", r.Len())
	}
	if n := len(r.Snapshot()); n != r.Len() {
		t.Errorf("Snapshot has %d entries", n)
	}
	seen := 0
	r.Range(func(entry) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Errorf("Range visited %d after stop", seen)
	}
}
