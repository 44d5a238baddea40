// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "testing"

func TestBytePoolSizes(t *testing.T) {
	p := NewBytePool(1024)
	buf := p.Get()
	if len(*buf) != 1024 {
		t.Fatalf("len = %d", len(*buf))
	}
	*buf = (*buf)[:10]
	p.Put(buf)

	again := p.Get()
	if len(*again) != 1024 {
		t.Fatalf("reused buffer len = %d", len(*again))
	}
	gets, allocs := p.Stats()
	if gets != 2 || allocs < 1 || allocs > 2 {
		t.Errorf("gets=%d allocs=%d", gets, allocs)
	}
}

func TestBytePoolDropsForeignBuffers(t *testing.T) {
	p := NewBytePool(64)
	foreign := make([]byte, 10)
	p.Put(&foreign)
	p.Put(nil)
	if buf := p.Get(); len(*buf) != 64 {
		t.Fatalf("len = %d", len(*buf))
	}
}

func TestBytePoolDefaultSize(t *testing.T) {
	if NewBytePool(0).Size() != DefaultBufferSize {
		t.Fatal("default size not applied")
	}
}
