package bmff

import (
	"errors"
	"testing"

	"m7s.live/bmff/pkg/box"
)

func newTestTable() *SampleTable {
	st := NewSampleTable()
	st.SetTimeToSample(&box.TimeToSampleBox{Entries: []box.SttsEntry{
		{SampleCount: 2, SampleDelta: 100},
		{SampleCount: 4, SampleDelta: 50},
	}})
	st.SetSampleToChunk(&box.SampleToChunkBox{Entries: []box.StscEntry{
		{FirstChunk: 1, SamplesPerChunk: 3, SampleDescriptionIndex: 1},
	}})
	st.SetSampleSizes(&box.SampleSizeBox{Sizes: []uint32{10, 20, 30, 40, 50, 60}})
	st.SetChunkOffsets(&box.ChunkOffsetBox{Offsets: []uint64{1000, 5000}})
	st.SetSyncSamples(&box.SyncSampleBox{SampleNumbers: []uint32{1, 4}})
	return st
}

func TestSampleTableBuild(t *testing.T) {
	st := newTestTable()
	if n := st.NumSamples(); n != 6 {
		t.Fatalf("samples = %d, want 6", n)
	}
	wantTimes := []uint64{0, 100, 200, 250, 300, 350}
	wantOffsets := []int64{1000, 1010, 1030, 5000, 5040, 5090}
	for i := range wantTimes {
		info, err := st.SampleMetaData(i)
		if err != nil {
			t.Fatalf("SampleMetaData(%d): %v", i, err)
		}
		if info.DecodeTime != wantTimes[i] {
			t.Errorf("sample %d time = %d, want %d", i, info.DecodeTime, wantTimes[i])
		}
		if info.Offset != wantOffsets[i] {
			t.Errorf("sample %d offset = %d, want %d", i, info.Offset, wantOffsets[i])
		}
		if info.Sync != (i == 0 || i == 3) {
			t.Errorf("sample %d sync = %v", i, info.Sync)
		}
	}
	if _, err := st.SampleMetaData(6); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("SampleMetaData(6) = %v, want ErrOutOfRange", err)
	}
}

func TestSampleTableFindClosest(t *testing.T) {
	st := newTestTable()
	idx, err := st.FindClosestSample(260, false)
	if err != nil || idx != 3 {
		t.Errorf("FindClosestSample(260) = %d, %v, want 3", idx, err)
	}
	// walking back to the previous sync sample
	idx, err = st.FindClosestSample(320, true)
	if err != nil || idx != 3 {
		t.Errorf("FindClosestSample(320, sync) = %d, %v, want 3", idx, err)
	}
	idx, err = st.FindClosestSample(150, true)
	if err != nil || idx != 0 {
		t.Errorf("FindClosestSample(150, sync) = %d, %v, want 0", idx, err)
	}
	// past the end clamps to the last sample
	idx, err = st.FindClosestSample(99999, false)
	if err != nil || idx != 5 {
		t.Errorf("FindClosestSample(99999) = %d, %v, want 5", idx, err)
	}
}

func TestSampleTableThumbnail(t *testing.T) {
	st := newTestTable()
	// the larger of the two sync samples is sample 4 at time 250
	ts, err := st.ThumbnailTime()
	if err != nil {
		t.Fatalf("ThumbnailTime: %v", err)
	}
	if ts != 250 {
		t.Errorf("thumbnail time = %d, want 250", ts)
	}
}

func TestSampleTableIncomplete(t *testing.T) {
	st := NewSampleTable()
	st.SetSampleSizes(&box.SampleSizeBox{Sizes: []uint32{10}})
	if _, err := st.SampleMetaData(0); !errors.Is(err, ErrMalformed) {
		t.Errorf("SampleMetaData = %v, want ErrMalformed", err)
	}
	if n := st.NumSamples(); n != 0 {
		t.Errorf("NumSamples = %d, want 0", n)
	}
}
