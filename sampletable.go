package bmff

import (
	"sync"

	"m7s.live/bmff/pkg/box"
)

// SampleInfo locates one sample in the file and carries its timing.
type SampleInfo struct {
	Offset            int64
	Size              uint32
	DecodeTime        uint64 // media timescale units
	CompositionOffset uint32
	Sync              bool
}

// SampleTable is the flat (non-fragmented) sample index of one track,
// assembled from the stbl child boxes. The per-sample view is built once
// on first use.
type SampleTable struct {
	mu   sync.Mutex
	stts *box.TimeToSampleBox
	ctts *box.CompositionOffsetBox
	stsc *box.SampleToChunkBox
	stsz *box.SampleSizeBox
	stco *box.ChunkOffsetBox
	stss *box.SyncSampleBox

	built   bool
	samples []SampleInfo

	maxSampleSize uint32
}

func NewSampleTable() *SampleTable { return &SampleTable{} }

func (s *SampleTable) SetTimeToSample(b *box.TimeToSampleBox)            { s.stts = b }
func (s *SampleTable) SetCompositionOffsets(b *box.CompositionOffsetBox) { s.ctts = b }
func (s *SampleTable) SetSampleToChunk(b *box.SampleToChunkBox)          { s.stsc = b }
func (s *SampleTable) SetChunkOffsets(b *box.ChunkOffsetBox)             { s.stco = b }
func (s *SampleTable) SetSyncSamples(b *box.SyncSampleBox)               { s.stss = b }

func (s *SampleTable) SetSampleSizes(b *box.SampleSizeBox) {
	s.stsz = b
	for _, size := range b.Sizes {
		if size > s.maxSampleSize {
			s.maxSampleSize = size
		}
	}
}

// MaxSampleSize is the largest sample size seen in stsz.
func (s *SampleTable) MaxSampleSize() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSampleSize
}

func (s *SampleTable) build() error {
	if s.built {
		return nil
	}
	if s.stts == nil || s.stsc == nil || s.stsz == nil || s.stco == nil {
		return ErrMalformed
	}
	count := len(s.stsz.Sizes)
	s.samples = make([]SampleInfo, count)

	// decode times from stts
	var dts uint64
	i := 0
	for _, e := range s.stts.Entries {
		for n := uint32(0); n < e.SampleCount && i < count; n++ {
			s.samples[i].DecodeTime = dts
			dts += uint64(e.SampleDelta)
			i++
		}
	}
	if i < count && len(s.stts.Entries) > 0 {
		// stts ran short, keep the last delta going
		delta := s.stts.Entries[len(s.stts.Entries)-1].SampleDelta
		for ; i < count; i++ {
			s.samples[i].DecodeTime = dts
			dts += uint64(delta)
		}
	}

	// composition offsets from ctts
	if s.ctts != nil {
		i = 0
		for _, e := range s.ctts.Entries {
			for n := uint32(0); n < e.SampleCount && i < count; n++ {
				s.samples[i].CompositionOffset = e.SampleOffset
				i++
			}
		}
	}

	// offsets from stsc x stco
	i = 0
	for ei, e := range s.stsc.Entries {
		lastChunk := uint32(len(s.stco.Offsets))
		if ei+1 < len(s.stsc.Entries) {
			lastChunk = s.stsc.Entries[ei+1].FirstChunk - 1
		}
		for chunk := e.FirstChunk; chunk <= lastChunk && i < count; chunk++ {
			if chunk == 0 || int(chunk) > len(s.stco.Offsets) {
				return ErrMalformed
			}
			offset := s.stco.Offsets[chunk-1]
			for n := uint32(0); n < e.SamplesPerChunk && i < count; n++ {
				s.samples[i].Offset = int64(offset)
				s.samples[i].Size = s.stsz.Sizes[i]
				offset += uint64(s.stsz.Sizes[i])
				i++
			}
		}
	}
	if i < count {
		return ErrMalformed
	}

	// without an stss box every sample is a sync sample
	if s.stss == nil {
		for i := range s.samples {
			s.samples[i].Sync = true
		}
	} else {
		for _, num := range s.stss.SampleNumbers {
			if num >= 1 && int(num) <= count {
				s.samples[num-1].Sync = true
			}
		}
	}
	s.built = true
	return nil
}

// NumSamples returns the sample count, zero when the table is incomplete.
func (s *SampleTable) NumSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.build(); err != nil {
		return 0
	}
	return len(s.samples)
}

// SampleMetaData returns the location and timing of sample index (0-based).
func (s *SampleTable) SampleMetaData(index int) (SampleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.build(); err != nil {
		return SampleInfo{}, err
	}
	if index < 0 || index >= len(s.samples) {
		return SampleInfo{}, ErrOutOfRange
	}
	return s.samples[index], nil
}

// FindClosestSample returns the index of the last sample whose decode time
// does not exceed t, optionally restricted to sync samples.
func (s *SampleTable) FindClosestSample(t uint64, syncOnly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.build(); err != nil {
		return 0, err
	}
	if len(s.samples) == 0 {
		return 0, ErrOutOfRange
	}
	i := len(s.samples) - 1
	for ; i > 0; i-- {
		if s.samples[i].DecodeTime <= t {
			break
		}
	}
	if syncOnly {
		for i > 0 && !s.samples[i].Sync {
			i--
		}
	}
	return i, nil
}

const maxSyncSamplesToScan = 20

// ThumbnailTime picks the decode time of the largest sync sample among the
// first few, a cheap proxy for an interesting key frame.
func (s *SampleTable) ThumbnailTime() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.build(); err != nil {
		return 0, err
	}
	var best *SampleInfo
	scanned := 0
	for i := range s.samples {
		if !s.samples[i].Sync {
			continue
		}
		if best == nil || s.samples[i].Size > best.Size {
			best = &s.samples[i]
		}
		if scanned++; scanned == maxSyncSamplesToScan {
			break
		}
	}
	if best == nil {
		return 0, ErrOutOfRange
	}
	return best.DecodeTime, nil
}
