package util

import "unsafe"

const MinPowerOf2 = 10

// memorySlab is a contiguous block carved up by sequential Malloc calls.
// Freeing is by reference count: when every allocation taken from the
// slab has been returned, the whole slab rewinds to empty.
type memorySlab struct {
	mem   []byte
	start uintptr
	off   int
	refs  int
}

func (s *memorySlab) contains(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	return p >= s.start && p < s.start+uintptr(len(s.mem))
}

// ScalableMemoryAllocator hands out sample-sized buffers without a per-read
// make. It grows by doubling slab size whenever the current slabs are full.
type ScalableMemoryAllocator struct {
	slabs     []*memorySlab
	slabSize  int
	totalUsed int
}

func NewScalableMemoryAllocator(size int) *ScalableMemoryAllocator {
	if size < 1<<MinPowerOf2 {
		size = 1 << MinPowerOf2
	}
	return &ScalableMemoryAllocator{slabSize: size}
}

func (a *ScalableMemoryAllocator) addSlab(size int) *memorySlab {
	mem := make([]byte, size)
	s := &memorySlab{mem: mem, start: uintptr(unsafe.Pointer(&mem[0]))}
	a.slabs = append(a.slabs, s)
	return s
}

// Malloc returns a buffer of exactly size bytes. The buffer stays valid
// until passed to Free.
func (a *ScalableMemoryAllocator) Malloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	for _, s := range a.slabs {
		if len(s.mem)-s.off >= size {
			b := s.mem[s.off : s.off+size : s.off+size]
			s.off += size
			s.refs++
			a.totalUsed += size
			return b
		}
	}
	for a.slabSize < size {
		a.slabSize <<= 1
	}
	s := a.addSlab(a.slabSize)
	a.slabSize <<= 1
	b := s.mem[:size:size]
	s.off = size
	s.refs = 1
	a.totalUsed += size
	return b
}

// Free returns a buffer obtained from Malloc. Reports whether the buffer
// belonged to this allocator.
func (a *ScalableMemoryAllocator) Free(b []byte) bool {
	for _, s := range a.slabs {
		if s.contains(b) {
			s.refs--
			a.totalUsed -= len(b)
			if s.refs == 0 {
				s.off = 0
			}
			return true
		}
	}
	return false
}

func (a *ScalableMemoryAllocator) GetTotalUsed() int {
	return a.totalUsed
}
