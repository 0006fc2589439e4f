package bmff

import (
	"slices"
	"sync"
)

// TFRAEntry is one random access point from a track's tfra box.
type TFRAEntry struct {
	Time         uint64
	MoofOffset   int64
	TrafNumber   uint32 // all 1-based
	TrunNumber   uint32
	SampleNumber uint32
}

// fragmentEntry is one known track fragment, in moof offset order. traf
// stays nil until the owning moof has been parsed.
type fragmentEntry struct {
	moofOffset int64
	trafNumber uint32
	traf       *TrackFragment
}

// FragmentIndex tracks the fragments of one track in a fragmented movie.
// The tfra box seeds it with placeholder entries for every sync sample
// fragment; parsed trafs are attached to their placeholders or inserted
// in offset order when the index never mentioned them.
type FragmentIndex struct {
	mu      sync.Mutex
	trackID uint32
	isVideo bool

	tfra          []TFRAEntry
	entries       []*fragmentEntry
	fragmentCount int
	hint          int // entry index to resume searching at, -1 when unset
	maxSampleSize uint32

	// read cursor
	cur                   int
	curRun, curSample     int
	needNewFragment       bool
	nextFragmentTimestamp uint64

	// thumbnail selection
	syncSamplesLeftToScan int
	nextTFRAToScan        int
	gotBestThumbnail      bool
	haveThumb             bool
	thumbTime             uint64
	thumbSize             uint32
}

func newFragmentIndex(trackID uint32, isVideo bool) *FragmentIndex {
	return &FragmentIndex{
		trackID:         trackID,
		isVideo:         isVideo,
		hint:            -1,
		needNewFragment: true,
	}
}

// setRandomAccess installs the tfra sync sample index. Placeholder entries
// are created per distinct fragment; several sync samples can share one.
func (x *FragmentIndex) setRandomAccess(tfra []TFRAEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tfra = tfra
	for _, e := range tfra {
		if n := len(x.entries); n > 0 &&
			x.entries[n-1].moofOffset == e.MoofOffset &&
			x.entries[n-1].trafNumber == e.TrafNumber {
			continue
		}
		x.entries = append(x.entries, &fragmentEntry{
			moofOffset: e.MoofOffset,
			trafNumber: e.TrafNumber,
		})
	}
	if x.isVideo {
		x.syncSamplesLeftToScan = min(len(tfra), maxSyncSamplesToScan)
	}
}

// TrackID returns the track this index belongs to.
func (x *FragmentIndex) TrackID() uint32 { return x.trackID }

// NumFragments is the number of parsed fragments.
func (x *FragmentIndex) NumFragments() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fragmentCount
}

func (x *FragmentIndex) firstFragmentReceived() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fragmentCount > 0
}

// MaxSampleSize is the largest sample size across all parsed fragments.
func (x *FragmentIndex) MaxSampleSize() uint32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.maxSampleSize
}

// UpdateTable attaches a freshly parsed traf to the index.
func (x *FragmentIndex) UpdateTable(traf *TrackFragment) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if traf.TrackID != x.trackID {
		return ErrMalformed
	}
	start := 0
	if x.hint >= 0 {
		start = x.hint
	}
	entryIdx := -1
	isSyncFragment := false
	if len(x.tfra) > 0 {
		for i := start; i < len(x.entries); i++ {
			e := x.entries[i]
			if e.moofOffset == traf.MoofOffset && e.trafNumber == traf.TrafNumber {
				e.traf = traf
				entryIdx = i
				isSyncFragment = true
				break
			}
		}
		if entryIdx < 0 {
			// not indexed; insert in offset order and re-anchor the
			// decode times on the parsed left neighbour
			pos := len(x.entries)
			for i := start; i < len(x.entries); i++ {
				if x.entries[i].moofOffset > traf.MoofOffset {
					pos = i
					break
				}
			}
			x.entries = slices.Insert(x.entries, pos, &fragmentEntry{
				moofOffset: traf.MoofOffset,
				trafNumber: traf.TrafNumber,
				traf:       traf,
			})
			entryIdx = pos
			if pos > 0 {
				if left := x.entries[pos-1].traf; left != nil {
					if next := left.endTimestamp(); next != 0 {
						if first := traf.firstSample(); first != nil && first.Timestamp != next {
							rewriteTimestamps(traf, next)
						}
					}
				}
			}
		}
	} else {
		x.entries = append(x.entries, &fragmentEntry{
			moofOffset: traf.MoofOffset,
			trafNumber: traf.TrafNumber,
			traf:       traf,
		})
		entryIdx = len(x.entries) - 1
	}

	x.fragmentCount++
	if traf.MaxSampleSize > x.maxSampleSize {
		x.maxSampleSize = traf.MaxSampleSize
	}
	if x.needNewFragment {
		x.cur, x.curRun, x.curSample = entryIdx, 0, 0
		x.needNewFragment = false
	}
	x.scanThumbnail(traf, isSyncFragment)
	x.hint = -1
	return nil
}

func rewriteTimestamps(traf *TrackFragment, start uint64) {
	ts := start
	for r := range traf.Runs {
		for s := range traf.Runs[r].Samples {
			sm := &traf.Runs[r].Samples[s]
			sm.Timestamp = ts
			ts += uint64(sm.Duration)
		}
	}
}

// scanThumbnail consumes tfra sync entries covered by the new fragment,
// remembering the largest sync sample seen so far. The scan is capped so
// metadata extraction does not walk a long movie.
func (x *FragmentIndex) scanThumbnail(traf *TrackFragment, isSyncFragment bool) {
	if !x.isVideo || x.gotBestThumbnail {
		return
	}
	if len(x.tfra) == 0 {
		if first := traf.firstSample(); first != nil {
			x.thumbTime, x.thumbSize = first.Timestamp, first.Size
			x.haveThumb = true
			x.gotBestThumbnail = true
		}
		return
	}
	if !isSyncFragment {
		return
	}
	for x.syncSamplesLeftToScan > 0 && x.nextTFRAToScan < len(x.tfra) {
		te := &x.tfra[x.nextTFRAToScan]
		if te.MoofOffset > traf.MoofOffset {
			break
		}
		if te.MoofOffset == traf.MoofOffset && te.TrafNumber == traf.TrafNumber {
			if sm := traf.sampleAt(te.TrunNumber, te.SampleNumber); sm != nil {
				if !x.haveThumb || sm.Size > x.thumbSize {
					x.thumbTime, x.thumbSize = sm.Timestamp, sm.Size
					x.haveThumb = true
				}
			}
		}
		x.syncSamplesLeftToScan--
		x.nextTFRAToScan++
	}
	if x.haveThumb && (x.syncSamplesLeftToScan == 0 || x.nextTFRAToScan >= len(x.tfra)) {
		x.gotBestThumbnail = true
	}
}

// syncSamplesIn lists the tfra entries that land in one specific trun,
// in index order.
func (x *FragmentIndex) syncSamplesIn(moofOffset int64, trafNumber, trunNumber uint32) []TFRAEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []TFRAEntry
	for _, e := range x.tfra {
		if e.MoofOffset == moofOffset && e.TrafNumber == trafNumber && e.TrunNumber == trunNumber {
			out = append(out, e)
		}
	}
	return out
}

func (x *FragmentIndex) thumbnailScanComplete() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return !x.isVideo || x.gotBestThumbnail
}

// ThumbnailTime returns the decode time of the chosen thumbnail sample.
func (x *FragmentIndex) ThumbnailTime() (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.haveThumb {
		return x.thumbTime, nil
	}
	for _, e := range x.entries {
		if e.traf != nil {
			if first := e.traf.firstSample(); first != nil {
				return first.Timestamp, nil
			}
		}
	}
	return 0, ErrOutOfRange
}

// NextSample returns the sample under the cursor and advances it. When the
// cursor points past the parsed fragments a NotParsedError tells the
// caller where the next moof starts.
func (x *FragmentIndex) NextSample() (SampleInfo, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fragmentCount == 0 {
		np := &NotParsedError{}
		if len(x.entries) > 0 {
			np.MoofOffset = x.entries[0].moofOffset
			x.hint = 0
		}
		return SampleInfo{}, np
	}
	cur := x.entries[x.cur]
	if x.needNewFragment {
		x.hint = x.cur
		return SampleInfo{}, &NotParsedError{
			MoofOffset:    cur.moofOffset + cur.traf.MoofSize,
			NextTimestamp: x.nextFragmentTimestamp,
		}
	}
	traf := cur.traf
	if x.curRun >= len(traf.Runs) || x.curSample >= len(traf.Runs[x.curRun].Samples) {
		return SampleInfo{}, ErrMalformed
	}
	sm := &traf.Runs[x.curRun].Samples[x.curSample]
	info := SampleInfo{
		Offset:            sm.DataOffset,
		Size:              sm.Size,
		DecodeTime:        sm.Timestamp,
		CompositionOffset: sm.CompositionOffset,
	}
	x.advance(sm)
	return info, nil
}

// advance moves the cursor one sample forward, arming the parse request
// when it falls off the parsed range.
func (x *FragmentIndex) advance(sm *Sample) {
	traf := x.entries[x.cur].traf
	switch {
	case x.curSample+1 < len(traf.Runs[x.curRun].Samples):
		x.curSample++
	case x.curRun+1 < len(traf.Runs):
		x.curRun++
		x.curSample = 0
	case x.cur+1 < len(x.entries) && x.entries[x.cur+1].traf != nil:
		x.cur++
		x.curRun, x.curSample = 0, 0
	default:
		x.nextFragmentTimestamp = sm.Timestamp + uint64(sm.Duration)
		x.needNewFragment = true
	}
}

// FindClosestSample positions the cursor on the sample covering media time
// t, using the tfra index. With syncOnly the indexed sync sample itself is
// returned; otherwise the scan refines inside the fragment, clamping to
// its last sample.
func (x *FragmentIndex) FindClosestSample(t uint64, syncOnly bool) (SampleInfo, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.tfra) == 0 || len(x.entries) == 0 {
		return SampleInfo{}, ErrOutOfRange
	}
	// greatest indexed time not after t, or the very first entry
	idx := 0
	for i := range x.tfra {
		if x.tfra[i].Time <= t {
			idx = i
		} else {
			break
		}
	}
	te := &x.tfra[idx]
	eIdx := -1
	for i, e := range x.entries {
		if e.moofOffset == te.MoofOffset && e.trafNumber == te.TrafNumber {
			eIdx = i
			break
		}
	}
	if eIdx < 0 {
		return SampleInfo{}, ErrOutOfRange
	}
	e := x.entries[eIdx]
	if e.traf == nil {
		x.hint = eIdx
		return SampleInfo{}, &NotParsedError{MoofOffset: te.MoofOffset}
	}
	traf := e.traf
	r, s := int(te.TrunNumber)-1, int(te.SampleNumber)-1
	if r < 0 || r >= len(traf.Runs) || s < 0 || s >= len(traf.Runs[r].Samples) {
		return SampleInfo{}, ErrMalformed
	}
	if sm := &traf.Runs[r].Samples[s]; !syncOnly && t != sm.Timestamp {
		r, s = findInFragment(traf, t)
	}
	sm := &traf.Runs[r].Samples[s]
	info := SampleInfo{
		Offset:            sm.DataOffset,
		Size:              sm.Size,
		DecodeTime:        sm.Timestamp,
		CompositionOffset: sm.CompositionOffset,
	}
	x.cur, x.curRun, x.curSample = eIdx, r, s
	x.needNewFragment = false
	x.advance(sm)
	return info, nil
}

// findInFragment narrows a seek to the sample covering t inside one
// fragment, clamping to the fragment's last sample.
func findInFragment(traf *TrackFragment, t uint64) (run, sample int) {
	run, sample = 0, 0
	for r := range traf.Runs {
		samples := traf.Runs[r].Samples
		if len(samples) == 0 {
			continue
		}
		last := samples[len(samples)-1]
		if t < last.Timestamp+uint64(last.Duration) {
			run = r
			sample = len(samples) - 1
			for s := range samples {
				if samples[s].Timestamp > t {
					sample = s - 1
					break
				}
			}
			if sample < 0 {
				sample = 0
			}
			return run, sample
		}
		run, sample = r, len(samples)-1
	}
	return run, sample
}
