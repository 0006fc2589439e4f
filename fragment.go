package bmff

import "m7s.live/bmff/pkg/box"

// Sample is one sample inside a track run of a movie fragment.
type Sample struct {
	Duration          uint32
	Size              uint32
	Flags             uint32
	CompositionOffset uint32
	Timestamp         uint64 // decode time in media timescale units
	DataOffset        int64
}

// Run is one decoded trun.
type Run struct {
	DataOffset       uint64
	FirstSampleFlags uint32
	Samples          []Sample
}

// TrackFragment is one decoded traf with its runs resolved to absolute
// file offsets and decode times.
type TrackFragment struct {
	TrackID                uint32
	TrafNumber             uint32 // 1-based position inside the parent moof
	MoofOffset             int64
	MoofSize               int64
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
	MaxSampleSize          uint32
	Runs                   []Run
	Encryption             *box.SampleEncryptionBox

	firstSampleTimestamp uint64
	fixTimestamps        bool
	firstSyncRun         uint32 // 1-based, valid when fixTimestamps
	firstSyncSample      uint32
}

// MovieFragment groups the track fragments of one moof.
type MovieFragment struct {
	SequenceNumber uint32
	Offset         int64
	Size           int64
	Fragments      []*TrackFragment
}

func (f *TrackFragment) sampleCount() int {
	n := 0
	for i := range f.Runs {
		n += len(f.Runs[i].Samples)
	}
	return n
}

func (f *TrackFragment) firstSample() *Sample {
	for i := range f.Runs {
		if len(f.Runs[i].Samples) > 0 {
			return &f.Runs[i].Samples[0]
		}
	}
	return nil
}

// sampleAt resolves 1-based run and sample numbers as used by tfra.
func (f *TrackFragment) sampleAt(trunNumber, sampleNumber uint32) *Sample {
	if trunNumber < 1 || int(trunNumber) > len(f.Runs) {
		return nil
	}
	samples := f.Runs[trunNumber-1].Samples
	if sampleNumber < 1 || int(sampleNumber) > len(samples) {
		return nil
	}
	return &samples[sampleNumber-1]
}

func (f *TrackFragment) lastSample() *Sample {
	for i := len(f.Runs) - 1; i >= 0; i-- {
		if n := len(f.Runs[i].Samples); n > 0 {
			return &f.Runs[i].Samples[n-1]
		}
	}
	return nil
}

// endTimestamp is the decode time one past the last sample.
func (f *TrackFragment) endTimestamp() uint64 {
	if last := f.lastSample(); last != nil {
		return last.Timestamp + uint64(last.Duration)
	}
	return f.firstSampleTimestamp
}

// fixEarlyTimestamps rewrites the decode times of the samples before the
// first sync sample after the tfra revealed that the accumulated times
// drifted from the index, typically because an earlier moof was skipped.
func (f *TrackFragment) fixEarlyTimestamps() {
	ts := f.firstSampleTimestamp
	for r := range f.Runs {
		for s := range f.Runs[r].Samples {
			if uint32(r+1) == f.firstSyncRun && uint32(s+1) == f.firstSyncSample {
				return
			}
			sample := &f.Runs[r].Samples[s]
			sample.Timestamp = ts
			ts += uint64(sample.Duration)
		}
	}
}
