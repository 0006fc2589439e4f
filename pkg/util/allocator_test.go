package util

import "testing"

func TestAllocatorReuse(t *testing.T) {
	a := NewScalableMemoryAllocator(1 << MinPowerOf2)
	b1 := a.Malloc(100)
	b2 := a.Malloc(200)
	if len(b1) != 100 || len(b2) != 200 {
		t.Fatal("bad sizes")
	}
	if a.GetTotalUsed() != 300 {
		t.Fatalf("used = %d", a.GetTotalUsed())
	}
	if !a.Free(b1) || !a.Free(b2) {
		t.Fatal("free failed")
	}
	if a.GetTotalUsed() != 0 {
		t.Fatalf("used after free = %d", a.GetTotalUsed())
	}
	b3 := a.Malloc(50)
	if &b3[0] != &b1[0] {
		t.Fatal("slab not rewound")
	}
}

func TestAllocatorGrow(t *testing.T) {
	a := NewScalableMemoryAllocator(1 << MinPowerOf2)
	big := a.Malloc(1 << 20)
	if len(big) != 1<<20 {
		t.Fatal("grow failed")
	}
	if a.Free(make([]byte, 10)) {
		t.Fatal("foreign buffer accepted")
	}
}

func TestReadPutBE(t *testing.T) {
	b := make([]byte, 3)
	PutBE(b, uint32(0x123456))
	if got := ReadBE[uint32](b); got != 0x123456 {
		t.Fatalf("got %x", got)
	}
	buf := GetBE(nil, uint64(0x0102030405), 5)
	if len(buf) != 5 || buf[0] != 1 || buf[4] != 5 {
		t.Fatalf("GetBE = % x", buf)
	}
}
