package bmff

import (
	"errors"
	"io"
	"sync"

	"m7s.live/bmff/pkg/util"
)

// Packet is one unit of output from a SampleReader: a whole access unit,
// or a single NAL unit in fragment mode. Data comes from the reader's
// allocator; hand it back with Free when done.
type Packet struct {
	Data   []byte
	TimeUs int64
}

// SampleReader reads the samples of one track in decode order. AVC
// samples have their length prefixes rewritten to Annex B start codes; in
// NAL fragment mode each NAL unit is returned as its own packet without a
// start code.
type SampleReader struct {
	mu    sync.Mutex
	ex    *Extractor
	track *Track
	alloc *util.ScalableMemoryAllocator

	isAVC         bool
	nalLengthSize int
	nalFragments  bool

	sampleIndex int // flat cursor

	seeked *SampleInfo // resolved by Seek, consumed by next Read

	srcBuf       []byte
	sampleData   []byte // current sample, fragment mode leftovers
	nalPos       int
	sampleTimeUs int64

	eof bool
}

// NewSampleReader creates a reader for one of the extractor's tracks.
// nalFragments only applies to AVC tracks.
func (e *Extractor) NewSampleReader(t *Track, nalFragments bool) *SampleReader {
	return &SampleReader{
		ex:            e,
		track:         t,
		alloc:         util.NewScalableMemoryAllocator(1 << 14),
		isAVC:         t.MIMEType == MIMETypeAVC,
		nalLengthSize: t.nalLengthSize(),
		nalFragments:  nalFragments && t.MIMEType == MIMETypeAVC,
	}
}

// Free recycles a packet's buffer.
func (r *SampleReader) Free(p *Packet) {
	if p != nil && p.Data != nil {
		r.alloc.Free(p.Data)
	}
}

// Seek repositions the reader on the sync sample at or before timeUs. Any
// partially consumed sample is dropped. A seek beyond the indexed range
// arms a clean end of stream.
func (r *SampleReader) Seek(timeUs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sampleData = nil
	r.nalPos = 0
	r.seeked = nil
	r.eof = false
	if timeUs < 0 {
		timeUs = 0
	}
	ts := uint64(timeUs) * uint64(r.track.Timescale) / 1000000

	if r.track.fragments == nil {
		if r.track.samples == nil {
			return ErrMalformed
		}
		idx, err := r.track.samples.FindClosestSample(ts, true)
		if errors.Is(err, ErrOutOfRange) {
			r.eof = true
			return nil
		}
		if err != nil {
			return err
		}
		r.sampleIndex = idx
		return nil
	}

	for {
		info, err := r.track.fragments.FindClosestSample(ts, true)
		var np *NotParsedError
		switch {
		case errors.As(err, &np):
			// Each retry parses one new moof or ends the file, so the
			// loop is bounded even when the next moofs belong to other
			// tracks.
			if perr := r.ex.parseMoofForTrack(r.track, np); perr != nil {
				if perr == io.EOF {
					r.eof = true
					return nil
				}
				return perr
			}
		case errors.Is(err, ErrOutOfRange):
			r.eof = true
			return nil
		case err != nil:
			return err
		default:
			r.seeked = &info
			return nil
		}
	}
}

// Read returns the next packet. io.EOF marks the end of the stream.
func (r *SampleReader) Read() (*Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *SampleReader) readLocked() (*Packet, error) {
	if r.eof {
		return nil, io.EOF
	}
	if r.nalPos < len(r.sampleData) {
		return r.nextNAL()
	}

	var info SampleInfo
	switch {
	case r.seeked != nil:
		info = *r.seeked
		r.seeked = nil
	case r.track.fragments != nil:
		for {
			inf, err := r.track.fragments.NextSample()
			var np *NotParsedError
			if errors.As(err, &np) {
				if perr := r.ex.parseMoofForTrack(r.track, np); perr != nil {
					if perr == io.EOF {
						r.eof = true
						return nil, io.EOF
					}
					return nil, perr
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			info = inf
			break
		}
	default:
		if r.track.samples == nil {
			return nil, ErrMalformed
		}
		inf, err := r.track.samples.SampleMetaData(r.sampleIndex)
		if errors.Is(err, ErrOutOfRange) {
			r.eof = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		r.sampleIndex++
		info = inf
	}

	timeUs := int64(info.DecodeTime) * 1000000 / int64(r.track.Timescale)

	if !r.isAVC {
		data := r.alloc.Malloc(int(info.Size))
		if err := readFullAt(r.ex.src, data, info.Offset); err != nil {
			r.alloc.Free(data)
			return nil, err
		}
		return &Packet{Data: data, TimeUs: timeUs}, nil
	}

	want := max(int(info.Size), int(r.track.MaxInputSize))
	if cap(r.srcBuf) < want {
		r.srcBuf = make([]byte, want)
	}
	src := r.srcBuf[:info.Size]
	if err := readFullAt(r.ex.src, src, info.Offset); err != nil {
		return nil, err
	}

	if r.nalFragments {
		r.sampleData = src
		r.nalPos = 0
		r.sampleTimeUs = timeUs
		return r.nextNAL()
	}
	return r.repackSample(src, timeUs)
}

// nextNAL emits the next non-empty NAL unit of the current sample, without
// a start code.
func (r *SampleReader) nextNAL() (*Packet, error) {
	for r.nalPos < len(r.sampleData) {
		if r.nalPos+r.nalLengthSize > len(r.sampleData) {
			return nil, ErrMalformed
		}
		nalLen := int(util.ReadBE[uint32](r.sampleData[r.nalPos : r.nalPos+r.nalLengthSize]))
		r.nalPos += r.nalLengthSize
		if r.nalPos+nalLen > len(r.sampleData) {
			return nil, ErrMalformed
		}
		if nalLen == 0 {
			continue
		}
		data := r.alloc.Malloc(nalLen)
		copy(data, r.sampleData[r.nalPos:r.nalPos+nalLen])
		r.nalPos += nalLen
		return &Packet{Data: data, TimeUs: r.sampleTimeUs}, nil
	}
	r.sampleData = nil
	r.nalPos = 0
	return r.readLocked()
}

// repackSample rewrites every NAL length prefix into a 4 byte start code,
// dropping empty NAL units.
func (r *SampleReader) repackSample(src []byte, timeUs int64) (*Packet, error) {
	total := 0
	for pos := 0; pos < len(src); {
		if pos+r.nalLengthSize > len(src) {
			return nil, ErrMalformed
		}
		nalLen := int(util.ReadBE[uint32](src[pos : pos+r.nalLengthSize]))
		pos += r.nalLengthSize
		if pos+nalLen > len(src) {
			return nil, ErrMalformed
		}
		if nalLen > 0 {
			total += 4 + nalLen
		}
		pos += nalLen
	}
	data := r.alloc.Malloc(total)
	out := data[:0]
	for pos := 0; pos < len(src); {
		nalLen := int(util.ReadBE[uint32](src[pos : pos+r.nalLengthSize]))
		pos += r.nalLengthSize
		if nalLen > 0 {
			out = append(out, 0, 0, 0, 1)
			out = append(out, src[pos:pos+nalLen]...)
		}
		pos += nalLen
	}
	return &Packet{Data: data, TimeUs: timeUs}, nil
}
