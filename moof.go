package bmff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"m7s.live/bmff/pkg/box"
)

// parseMFRA locates the mfra box through the mfro at end of file and seeds
// every track's fragment index with its tfra entries. The mfra box is
// optional, failures here only disable random access.
func (e *Extractor) parseMFRA() error {
	if e.fileSize < 16 {
		return fmt.Errorf("%w: file too small for mfro", ErrMalformed)
	}
	tail, err := e.readRange(e.fileSize-16, 16)
	if err != nil {
		return err
	}
	var typ [4]byte
	copy(typ[:], tail[4:])
	if typ != box.TypeMFRO {
		return fmt.Errorf("%w: file does not end in mfro", ErrMalformed)
	}
	var mfro box.MovieFragmentRandomAccessOffsetBox
	if err := mfro.Unmarshal(tail[8:]); err != nil {
		return badBox(typ)
	}
	mfraOffset := e.fileSize - int64(mfro.ParentSize)
	hdr, err := e.readRange(mfraOffset, 8)
	if err != nil {
		return err
	}
	copy(typ[:], hdr[4:])
	if typ != box.TypeMFRA {
		return fmt.Errorf("%w: mfro does not point at mfra", ErrMalformed)
	}
	stop := mfraOffset + int64(binary.BigEndian.Uint32(hdr))

	byTrack := make(map[uint32][]TFRAEntry)
	for off := mfraOffset + 8; off < stop; {
		hdr, err := e.readRange(off, 8)
		if err != nil {
			return err
		}
		size := int64(binary.BigEndian.Uint32(hdr))
		copy(typ[:], hdr[4:])
		if size < 8 {
			return badBox(typ)
		}
		switch typ {
		case box.TypeTFRA:
			content, err := e.readRange(off+8, size-8)
			if err != nil {
				return err
			}
			var tfra box.TrackFragmentRandomAccessBox
			if err := tfra.Unmarshal(content); err != nil {
				return badBox(typ)
			}
			entries := make([]TFRAEntry, len(tfra.Entries))
			for i, en := range tfra.Entries {
				entries[i] = TFRAEntry{
					Time:         en.Time,
					MoofOffset:   int64(en.MoofOffset),
					TrafNumber:   en.TrafNumber,
					TrunNumber:   en.TrunNumber,
					SampleNumber: en.SampleNumber,
				}
			}
			byTrack[tfra.TrackID] = append(byTrack[tfra.TrackID], entries...)
		case box.TypeMFRO:
			off = stop
			continue
		}
		off += size
	}

	for _, t := range e.tracks {
		t.fragments = newFragmentIndex(t.ID, t.IsVideo())
		if entries := byTrack[t.ID]; len(entries) > 0 {
			t.fragments.setRandomAccess(entries)
			t.nextTimestamp = entries[0].Time
		}
	}
	return nil
}

// ParseNextMoof parses the next movie fragment in file order. io.EOF means
// no fragments remain.
func (e *Extractor) ParseNextMoof() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parseNextMoofFrom(e.nextMoofOffset)
}

// parseMoofForTrack parses the first not-yet-parsed moof at or after the
// offset a NotParsedError pointed at, seeding the track's decode-time
// accumulator with the error's timestamp first. In an interleaved movie
// the moof at that offset can belong to another track; the forward scan
// keeps going until a new moof is parsed or the file ends.
func (e *Extractor) parseMoofForTrack(t *Track, np *NotParsedError) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.nextTimestamp = np.NextTimestamp
	return e.parseNextMoofFrom(np.MoofOffset)
}

// parseNextMoofFrom scans forward from offset for a moof box and parses
// it. Caller holds e.mu.
func (e *Extractor) parseNextMoofFrom(offset int64) error {
	for {
		var hdr [8]byte
		if err := readFullAt(e.src, hdr[:], offset); err != nil {
			return err
		}
		size := uint64(binary.BigEndian.Uint32(hdr[:4]))
		var typ [4]byte
		copy(typ[:], hdr[4:])
		headerSize := int64(8)
		if size == 1 {
			var ext [8]byte
			if err := readFullAt(e.src, ext[:], offset+8); err != nil {
				return err
			}
			size = binary.BigEndian.Uint64(ext[:])
			headerSize = 16
		}
		if size < uint64(headerSize) {
			return badBox(typ)
		}
		if typ == box.TypeMOOF {
			if _, done := e.parsedMoofs[offset]; !done {
				return e.parseMoofAt(offset)
			}
		}
		offset += int64(size)
		if e.fileSize > 0 && offset >= e.fileSize {
			return io.EOF
		}
	}
}

// parseMoofAt decodes the moof box at moofOffset and feeds the resulting
// track fragments to the per-track indexes. A moof is parsed at most once;
// a revisited offset is a no-op. Caller holds e.mu.
func (e *Extractor) parseMoofAt(moofOffset int64) error {
	if _, done := e.parsedMoofs[moofOffset]; done {
		return nil
	}
	hdr, err := e.readRange(moofOffset, 8)
	if err != nil {
		return err
	}
	var typ [4]byte
	copy(typ[:], hdr[4:])
	moofSize := int64(binary.BigEndian.Uint32(hdr))
	if typ != box.TypeMOOF || moofSize < 8 {
		return badBox(typ)
	}
	e.parsedMoofs[moofOffset] = struct{}{}
	frag := &MovieFragment{Offset: moofOffset, Size: moofSize}
	stop := moofOffset + moofSize
	trafCount := uint32(0)
	var sampleOffsetForNextRun uint64

	for off := moofOffset + 8; off < stop; {
		hdr, err := e.readRange(off, 8)
		if err != nil {
			return err
		}
		size := int64(binary.BigEndian.Uint32(hdr))
		copy(typ[:], hdr[4:])
		if size < 8 || off+size > stop {
			return badBox(typ)
		}
		switch typ {
		case box.TypeMFHD:
			content, err := e.readRange(off+8, size-8)
			if err != nil {
				return err
			}
			var mfhd box.MovieFragmentHeaderBox
			if err := mfhd.Unmarshal(content); err != nil {
				return badBox(typ)
			}
			frag.SequenceNumber = mfhd.SequenceNumber
		case box.TypeTRAF:
			trafCount++
			if err := e.parseTraf(frag, off+8, off+size, trafCount, &sampleOffsetForNextRun); err != nil {
				return err
			}
		}
		off += size
	}

	for _, traf := range frag.Fragments {
		track := e.trackByID(traf.TrackID)
		if track == nil {
			return fmt.Errorf("%w: traf references unknown track %d", ErrMalformed, traf.TrackID)
		}
		if track.fragments == nil {
			track.fragments = newFragmentIndex(track.ID, track.IsVideo())
		}
		if traf.fixTimestamps {
			traf.fixEarlyTimestamps()
		}
		if err := track.fragments.UpdateTable(traf); err != nil {
			return err
		}
		if ms := track.fragments.MaxSampleSize(); ms+10*2 > track.MaxInputSize {
			track.MaxInputSize = ms + 10*2
		}
	}
	e.moofs = append(e.moofs, frag)
	e.nextMoofOffset = stop
	return nil
}

// parseTraf walks the children of one traf box.
func (e *Extractor) parseTraf(frag *MovieFragment, start, stop int64, trafNumber uint32, sampleOffsetForNextRun *uint64) error {
	traf := &TrackFragment{
		TrafNumber: trafNumber,
		MoofOffset: frag.Offset,
		MoofSize:   frag.Size,
	}
	var track *Track
	tfhdHasBaseOffset := false
	trunCount := uint32(0)
	firstSyncSeen := false

	for off := start; off < stop; {
		hdr, err := e.readRange(off, 8)
		if err != nil {
			return err
		}
		size := int64(binary.BigEndian.Uint32(hdr))
		var typ [4]byte
		copy(typ[:], hdr[4:])
		if size < 8 || off+size > stop {
			return badBox(typ)
		}
		switch typ {
		case box.TypeTFHD:
			content, err := e.readRange(off+8, size-8)
			if err != nil {
				return err
			}
			var tfhd box.TrackFragmentHeaderBox
			if err := tfhd.Unmarshal(content); err != nil {
				return badBox(typ)
			}
			traf.TrackID = tfhd.TrackID
			track = e.trackByID(tfhd.TrackID)
			if track == nil {
				return fmt.Errorf("%w: tfhd references unknown track %d", ErrMalformed, tfhd.TrackID)
			}
			if tfhd.Flags&box.TfhdBaseDataOffsetPresent != 0 {
				traf.BaseDataOffset = tfhd.BaseDataOffset
				tfhdHasBaseOffset = true
			} else if hasEarlierTraf(frag, tfhd.TrackID) {
				traf.BaseDataOffset = *sampleOffsetForNextRun
			} else {
				traf.BaseDataOffset = uint64(frag.Offset)
			}
			traf.SampleDescriptionIndex = track.defaultSampleDescriptionIndex
			if tfhd.Flags&box.TfhdSampleDescriptionIdxPresent != 0 {
				traf.SampleDescriptionIndex = tfhd.SampleDescriptionIndex
			}
			traf.DefaultSampleDuration = track.defaultSampleDuration
			if tfhd.Flags&box.TfhdDefaultSampleDurationPresent != 0 {
				traf.DefaultSampleDuration = tfhd.DefaultSampleDuration
			}
			traf.DefaultSampleSize = track.defaultSampleSize
			if tfhd.Flags&box.TfhdDefaultSampleSizePresent != 0 {
				traf.DefaultSampleSize = tfhd.DefaultSampleSize
			}
			traf.DefaultSampleFlags = track.defaultSampleFlags
			if tfhd.Flags&box.TfhdDefaultSampleFlagsPresent != 0 {
				traf.DefaultSampleFlags = tfhd.DefaultSampleFlags
			}
			traf.firstSampleTimestamp = track.nextTimestamp
			traf.MaxSampleSize = max(track.defaultSampleSize, traf.DefaultSampleSize)

		case box.TypeTFDT:
			if track == nil {
				return fmt.Errorf("%w: tfdt before tfhd", ErrMalformed)
			}
			content, err := e.readRange(off+8, size-8)
			if err != nil {
				return err
			}
			var tfdt box.TrackFragmentDecodeTimeBox
			if err := tfdt.Unmarshal(content); err != nil {
				return badBox(typ)
			}
			// an absolute anchor beats accumulation across fragments
			track.nextTimestamp = tfdt.BaseMediaDecodeTime
			traf.firstSampleTimestamp = tfdt.BaseMediaDecodeTime

		case box.TypeTRUN:
			if track == nil {
				return fmt.Errorf("%w: trun before tfhd", ErrMalformed)
			}
			trunCount++
			content, err := e.readRange(off+8, size-8)
			if err != nil {
				return err
			}
			var trun box.TrackRunBox
			if err := trun.Unmarshal(content); err != nil {
				return badBox(typ)
			}
			appendRun(frag, traf, track, &trun, trunCount, &firstSyncSeen, tfhdHasBaseOffset, sampleOffsetForNextRun)

		case box.TypeUUID:
			if size-8 >= 16 {
				ext, err := e.readRange(off+8, 16)
				if err != nil {
					return err
				}
				if bytes.Equal(ext, box.UUIDSampleEncryption[:]) {
					content, err := e.readRange(off+24, size-24)
					if err != nil {
						return err
					}
					senc := new(box.SampleEncryptionBox)
					if err := senc.Unmarshal(content); err != nil {
						return badBox(typ)
					}
					traf.Encryption = senc
				}
			}
		}
		off += size
	}
	if track == nil {
		return fmt.Errorf("%w: traf without tfhd", ErrMalformed)
	}
	frag.Fragments = append(frag.Fragments, traf)
	return nil
}

// appendRun turns one trun into a Run, resolving offsets and decode times
// and correcting the accumulated times against the tfra sync index.
func appendRun(frag *MovieFragment, traf *TrackFragment, track *Track,
	trun *box.TrackRunBox, trunNumber uint32, firstSyncSeen *bool,
	tfhdHasBaseOffset bool, sampleOffsetForNextRun *uint64) {

	var dataOffset uint64
	switch {
	case trun.Flags&box.TrunDataOffsetPresent != 0:
		dataOffset = traf.BaseDataOffset + uint64(int64(trun.DataOffset))
	case trunNumber == 1:
		if tfhdHasBaseOffset {
			dataOffset = traf.BaseDataOffset
		} else {
			// assume samples start right after the moof's mdat header
			dataOffset = uint64(frag.Offset + frag.Size + 8)
		}
	default:
		dataOffset = *sampleOffsetForNextRun
	}

	run := Run{DataOffset: dataOffset, FirstSampleFlags: trun.FirstSampleFlags}
	var syncs []TFRAEntry
	if track.fragments != nil {
		syncs = track.fragments.syncSamplesIn(frag.Offset, traf.TrafNumber, trunNumber)
	}
	si := 0
	for i := range trun.Entries {
		en := &trun.Entries[i]
		sm := Sample{
			Duration:          traf.DefaultSampleDuration,
			Size:              traf.DefaultSampleSize,
			Flags:             traf.DefaultSampleFlags,
			CompositionOffset: en.CompositionOffset,
		}
		if trun.Flags&box.TrunSampleDurationPresent != 0 {
			sm.Duration = en.Duration
		}
		if trun.Flags&box.TrunSampleSizePresent != 0 {
			sm.Size = en.Size
		}
		if trun.Flags&box.TrunSampleFlagsPresent != 0 {
			sm.Flags = en.Flags
		}
		sm.Timestamp = track.nextTimestamp

		sampleNumber := uint32(i + 1)
		if si < len(syncs) && syncs[si].SampleNumber == sampleNumber {
			syncTime := syncs[si].Time
			if !*firstSyncSeen {
				*firstSyncSeen = true
				// if accumulation drifted from the index before the
				// first sync sample, remember how to rewrite the
				// earlier samples afterwards
				if (trunNumber > 1 || sampleNumber > 1) && sm.Timestamp != syncTime {
					traf.fixTimestamps = true
					traf.firstSyncRun = trunNumber
					traf.firstSyncSample = sampleNumber
					firstTS := traf.firstSampleTimestamp
					if fs := traf.firstSample(); fs != nil {
						firstTS = fs.Timestamp
					} else if len(run.Samples) > 0 {
						firstTS = run.Samples[0].Timestamp
					}
					traf.firstSampleTimestamp = syncTime - (sm.Timestamp - firstTS)
				}
			}
			sm.Timestamp = syncTime
			track.nextTimestamp = syncTime
			si++
		}
		track.nextTimestamp += uint64(sm.Duration)

		sm.DataOffset = int64(dataOffset)
		dataOffset += uint64(sm.Size)
		if sm.Size > traf.MaxSampleSize {
			traf.MaxSampleSize = sm.Size
		}
		run.Samples = append(run.Samples, sm)
	}
	*sampleOffsetForNextRun = dataOffset
	traf.Runs = append(traf.Runs, run)
}

func hasEarlierTraf(frag *MovieFragment, trackID uint32) bool {
	for _, t := range frag.Fragments {
		if t.TrackID == trackID {
			return true
		}
	}
	return false
}
