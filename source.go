package bmff

import (
	"io"
	"os"
	"sync"
)

// DataSource is the random access byte source an Extractor reads from.
// ReadAt must be safe for concurrent use.
type DataSource interface {
	io.ReaderAt
	Size() (int64, error)
}

// Prefetcher is implemented by sources that are slow on many small reads,
// typically network backed ones. When a source reports true the extractor
// routes sample-table parsing through an in-memory cache of the whole stbl.
type Prefetcher interface {
	WantsPrefetching() bool
}

func readFullAt(src io.ReaderAt, b []byte, off int64) error {
	n, err := src.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || err == io.EOF {
		if n == 0 {
			return io.EOF
		}
		err = io.ErrUnexpectedEOF
	}
	return err
}

type bytesSource struct {
	data     []byte
	prefetch bool
}

// NewBytesSource serves an in-memory file.
func NewBytesSource(data []byte) DataSource {
	return &bytesSource{data: data}
}

// NewPrefetchingBytesSource is NewBytesSource with WantsPrefetching set,
// which mainly matters for exercising the caching path.
func NewPrefetchingBytesSource(data []byte) DataSource {
	return &bytesSource{data: data, prefetch: true}
}

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *bytesSource) Size() (int64, error) { return int64(len(s.data)), nil }

func (s *bytesSource) WantsPrefetching() bool { return s.prefetch }

type fileSource struct {
	f *os.File
}

// NewFileSource serves an opened file. The caller keeps ownership of f.
func NewFileSource(f *os.File) DataSource {
	return &fileSource{f: f}
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileSource) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// cachedSource keeps one contiguous range of the underlying source in
// memory and serves reads that fall entirely inside it; everything else
// goes straight through.
type cachedSource struct {
	mu    sync.Mutex
	src   DataSource
	start int64
	cache []byte
}

func newCachedSource(src DataSource) *cachedSource {
	return &cachedSource{src: src}
}

// setCachedRange loads one contiguous range into memory, replacing any
// previous one. A failed load just clears the cache.
func (c *cachedSource) setCachedRange(offset, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = nil
	if size <= 0 {
		return
	}
	buf := make([]byte, size)
	if err := readFullAt(c.src, buf, offset); err != nil {
		return
	}
	c.start = offset
	c.cache = buf
}

func (c *cachedSource) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	if c.cache != nil && off >= c.start && off+int64(len(p)) <= c.start+int64(len(c.cache)) {
		n := copy(p, c.cache[off-c.start:])
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	return c.src.ReadAt(p, off)
}

func (c *cachedSource) Size() (int64, error) { return c.src.Size() }
