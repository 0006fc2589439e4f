package bmff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"m7s.live/bmff/pkg/box"
)

// signals that the moov box is fully parsed and top-level scanning can stop
var errMoovParsed = errors.New("moov parsed")

// Extractor reads the structure of an ISO base media file. After
// ReadMetaData the tracks and file level tags are available; for
// fragmented movies additional moof boxes are parsed on demand while
// reading samples.
type Extractor struct {
	mu  sync.Mutex
	src DataSource
	log *slog.Logger

	fileSize     int64
	haveMetadata bool
	hasVideo     bool
	fragmented   bool
	mfraParsed   bool

	tracks      []*Track
	meta        FileMetaData
	moofs       []*MovieFragment
	parsedMoofs map[int64]struct{}

	presentationTimescale uint32
	nextMoofOffset        int64
}

func NewExtractor(src DataSource, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if p, ok := src.(Prefetcher); ok && p.WantsPrefetching() {
		src = newCachedSource(src)
	}
	return &Extractor{src: src, log: logger, parsedMoofs: map[int64]struct{}{}}
}

// Tracks returns the surviving tracks. Valid after ReadMetaData.
func (e *Extractor) Tracks() []*Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracks
}

// FileMetaData returns the container level tags. Valid after ReadMetaData.
func (e *Extractor) FileMetaData() FileMetaData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta
}

// Fragmented reports whether the movie uses moof fragments.
func (e *Extractor) Fragmented() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fragmented
}

func (e *Extractor) trackByID(id uint32) *Track {
	for _, t := range e.tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (e *Extractor) lastTrack() *Track {
	if len(e.tracks) == 0 {
		return nil
	}
	return e.tracks[len(e.tracks)-1]
}

func typeString(t [4]byte) string { return string(t[:]) }

func badBox(t [4]byte) error {
	return fmt.Errorf("%w: bad %s box", ErrMalformed, typeString(t))
}

// readRange reads size bytes at off, refusing ranges past end of file.
func (e *Extractor) readRange(off, size int64) ([]byte, error) {
	if size < 0 || (e.fileSize > 0 && off+size > e.fileSize) {
		return nil, ErrMalformed
	}
	buf := make([]byte, size)
	if err := readFullAt(e.src, buf, off); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ReadMetaData scans the top level boxes until the moov box has been
// consumed, then for fragmented movies parses enough fragments to know
// every track's first samples and thumbnail candidates.
func (e *Extractor) ReadMetaData() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.haveMetadata {
		return nil
	}
	size, err := e.src.Size()
	if err != nil {
		return err
	}
	e.fileSize = size

	var offset int64
	for {
		err := e.parseBox(&offset, nil)
		if err == errMoovParsed {
			break
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if !e.haveMetadata {
		return fmt.Errorf("%w: no moov box", ErrMalformed)
	}
	if e.hasVideo {
		e.meta.MIMEType = MIMETypeMPEG4
	} else {
		e.meta.MIMEType = MIMETypeAudioMPEG4
	}
	e.nextMoofOffset = offset

	if e.fragmented {
		if err := e.bootstrapFragments(); err != nil {
			return err
		}
	}
	return nil
}

// bootstrapFragments parses fragments until every track has seen its
// first one and every video track has settled on a thumbnail sample.
func (e *Extractor) bootstrapFragments() error {
	for _, t := range e.tracks {
		for t.fragments == nil || !t.fragments.firstFragmentReceived() {
			if err := e.parseNextMoofFrom(e.nextMoofOffset); err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
		}
	}
	for _, t := range e.tracks {
		if t.fragments == nil || !t.IsVideo() {
			continue
		}
		for !t.fragments.thumbnailScanComplete() {
			if err := e.parseNextMoofFrom(e.nextMoofOffset); err != nil {
				break
			}
		}
	}
	for _, t := range e.tracks {
		if t.fragments == nil {
			continue
		}
		maxSize := t.fragments.MaxSampleSize()
		if maxSize == 0 {
			maxSize = 1024
		}
		if maxSize+20 > t.MaxInputSize {
			t.MaxInputSize = maxSize + 20
		}
	}
	return nil
}

var metaDataPath = [][4]byte{box.TypeMOOV, box.TypeUDTA, box.TypeMETA, box.TypeILST}

func underMetaDataPath(path [][4]byte) bool {
	if len(path) < 4 {
		return false
	}
	for i, t := range metaDataPath {
		if path[i] != t {
			return false
		}
	}
	return true
}

// parseBox decodes the box at *offset and advances *offset past it. path
// holds the ancestor box types, the current box included as last element
// once parsing descends.
func (e *Extractor) parseBox(offset *int64, path [][4]byte) error {
	var hdr [8]byte
	if err := readFullAt(e.src, hdr[:], *offset); err != nil {
		return err
	}
	size := uint64(binary.BigEndian.Uint32(hdr[:4]))
	var typ [4]byte
	copy(typ[:], hdr[4:])
	headerSize := int64(8)
	switch size {
	case 1:
		var ext [8]byte
		if err := readFullAt(e.src, ext[:], *offset+8); err != nil {
			return err
		}
		size = binary.BigEndian.Uint64(ext[:])
		headerSize = 16
	case 0:
		size = uint64(e.fileSize - *offset)
	}
	if size < uint64(headerSize) {
		return badBox(typ)
	}
	boxOffset := *offset
	dataOffset := *offset + headerSize
	dataSize := int64(size) - headerSize
	stop := boxOffset + int64(size)
	if e.fileSize > 0 && stop > e.fileSize {
		return badBox(typ)
	}
	path = append(path, typ)
	e.log.Debug("box", "type", typeString(typ), "offset", boxOffset, "size", size)

	// the named ilst entries (\xa9nam, covr, ...) are containers for a
	// data box
	if len(path) == 5 && underMetaDataPath(path) && typ != box.TypeCPRT {
		*offset = dataOffset
		for *offset < stop {
			if err := e.parseBox(offset, path); err != nil {
				return err
			}
		}
		if *offset != stop {
			return badBox(typ)
		}
		return nil
	}

	switch typ {
	case box.TypeMOOV, box.TypeTRAK, box.TypeMDIA, box.TypeMINF, box.TypeSTBL,
		box.TypeDINF, box.TypeEDTS, box.TypeUDTA, box.TypeILST, box.TypeMVEX:
		if typ == box.TypeTRAK {
			e.tracks = append(e.tracks, &Track{samples: NewSampleTable()})
		}
		if typ == box.TypeMVEX {
			e.fragmented = true
		}
		if typ == box.TypeSTBL {
			if cs, ok := e.src.(*cachedSource); ok {
				cs.setCachedRange(boxOffset, int64(size))
			}
		}
		*offset = dataOffset
		for *offset < stop {
			if err := e.parseBox(offset, path); err != nil {
				return err
			}
		}
		if *offset != stop {
			return badBox(typ)
		}
		switch typ {
		case box.TypeMOOV:
			e.haveMetadata = true
			return errMoovParsed
		case box.TypeTRAK:
			t := e.lastTrack()
			if t.skip {
				e.tracks = e.tracks[:len(e.tracks)-1]
				e.log.Debug("dropping track", "id", t.ID, "mime", t.MIMEType)
				return nil
			}
			if err := t.verify(); err != nil {
				return err
			}
		case box.TypeMVEX:
			if !e.mfraParsed {
				e.mfraParsed = true
				if err := e.parseMFRA(); err != nil {
					e.log.Debug("no usable mfra", "err", err)
				}
			}
		}
		return nil

	case box.TypeMOOF:
		e.fragmented = true
		if len(e.tracks) > 0 {
			if err := e.parseMoofAt(boxOffset); err != nil {
				return err
			}
		}

	case box.TypeTKHD:
		t := e.lastTrack()
		if t == nil {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		var tkhd box.TrackHeaderBox
		if err := tkhd.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		t.ID = tkhd.TrackID

	case box.TypeMDHD:
		t := e.lastTrack()
		if t == nil {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		var mdhd box.MediaHeaderBox
		if err := mdhd.Unmarshal(content); err != nil || mdhd.Timescale == 0 {
			return badBox(typ)
		}
		t.Timescale = mdhd.Timescale
		t.DurationUs = int64(mdhd.Duration) * 1000000 / int64(mdhd.Timescale)

	case box.TypeSTSD:
		t := e.lastTrack()
		if t == nil || dataSize < 8 {
			return badBox(typ)
		}
		head, err := e.readRange(dataOffset, 8)
		if err != nil {
			return err
		}
		if binary.BigEndian.Uint32(head) != 0 {
			return badBox(typ)
		}
		entryCount := binary.BigEndian.Uint32(head[4:])
		if entryCount > 1 {
			// per-chunk codec switching is not handled
			t.skip = true
			*offset = stop
			return nil
		}
		*offset = dataOffset + 8
		for i := uint32(0); i < entryCount && *offset < stop; i++ {
			if err := e.parseBox(offset, path); err != nil {
				return err
			}
		}
		if stop < *offset {
			return badBox(typ)
		}
		*offset = stop
		return nil

	case box.TypeMP4A, box.TypeSAMR, box.TypeSAWB:
		t := e.lastTrack()
		if t == nil {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, int64(box.AudioSampleEntryLen))
		if err != nil {
			return err
		}
		var entry box.AudioSampleEntry
		if err := entry.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		t.ChannelCount = entry.ChannelCount
		t.SampleRate = entry.SampleRate
		switch typ {
		case box.TypeMP4A:
			t.MIMEType = MIMETypeAAC
		case box.TypeSAMR:
			t.MIMEType = MIMETypeAMRNB
			t.ChannelCount = 1
			t.SampleRate = 8000
		case box.TypeSAWB:
			t.MIMEType = MIMETypeAMRWB
			t.ChannelCount = 1
			t.SampleRate = 16000
		}
		*offset = dataOffset + int64(box.AudioSampleEntryLen)
		for *offset < stop {
			if err := e.parseBox(offset, path); err != nil {
				return err
			}
		}
		if *offset != stop {
			return badBox(typ)
		}
		return nil

	case box.TypeMP4V, box.TypeS263, box.TypeAVC1:
		t := e.lastTrack()
		if t == nil {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, int64(box.VisualSampleEntryLen))
		if err != nil {
			return err
		}
		var entry box.VisualSampleEntry
		if err := entry.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		t.Width = entry.Width
		t.Height = entry.Height
		switch typ {
		case box.TypeMP4V:
			t.MIMEType = MIMETypeMPEG4Video
		case box.TypeS263:
			t.MIMEType = MIMETypeH263
		case box.TypeAVC1:
			t.MIMEType = MIMETypeAVC
		}
		e.hasVideo = true
		*offset = dataOffset + int64(box.VisualSampleEntryLen)
		for *offset < stop {
			if err := e.parseBox(offset, path); err != nil {
				return err
			}
		}
		if *offset != stop {
			return badBox(typ)
		}
		return nil

	case box.TypeSTTS, box.TypeCTTS, box.TypeSTSC, box.TypeSTSZ, box.TypeSTZ2,
		box.TypeSTCO, box.TypeCO64, box.TypeSTSS:
		t := e.lastTrack()
		if t == nil || t.samples == nil {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		if err := e.parseSampleTableBox(t, typ, content); err != nil {
			return err
		}

	case box.TypeESDS:
		t := e.lastTrack()
		if t == nil || dataSize > 256 || dataSize < 4 {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		var esd box.ESDescriptorBox
		if err := esd.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		t.ESDescriptor = content[4:]
		if len(path) >= 2 && path[len(path)-2] == box.TypeMP4A {
			switch err := t.updateAudioInfo(&esd); {
			case errors.Is(err, ErrUnsupported):
				t.skip = true
				e.log.Debug("unsupported audio config", "track", t.ID)
			case err != nil:
				return err
			}
		}

	case box.TypeAVCC:
		t := e.lastTrack()
		if t == nil {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		var avcc box.AVCConfigurationBox
		if err := avcc.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		t.AVCConfig = avcc.Record

	case box.TypeMETA:
		if dataSize < 4 {
			return badBox(typ)
		}
		vf, err := e.readRange(dataOffset, 4)
		if err != nil {
			return err
		}
		if binary.BigEndian.Uint32(vf) != 0 {
			// some writers emit a bare meta box; skip quietly
			break
		}
		*offset = dataOffset + 4
		for *offset < stop {
			if err := e.parseBox(offset, path); err != nil {
				return err
			}
		}
		if *offset != stop {
			return badBox(typ)
		}
		return nil

	case box.TypeMVHD:
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		var mvhd box.MovieHeaderBox
		if err := mvhd.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		e.presentationTimescale = mvhd.Timescale
		e.meta.Date = formatCreationDate(mvhd.CreationTime)

	case box.TypeMEHD:
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		var mehd box.MovieExtendsHeaderBox
		if err := mehd.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		if mehd.FragmentDuration != 0 && e.presentationTimescale != 0 {
			durUs := int64(mehd.FragmentDuration) * 1000000 / int64(e.presentationTimescale)
			for _, t := range e.tracks {
				if durUs > t.DurationUs {
					t.DurationUs = durUs
				}
			}
		}

	case box.TypeTREX:
		if len(e.tracks) == 0 {
			return badBox(typ)
		}
		content, err := e.readRange(dataOffset, dataSize)
		if err != nil {
			return err
		}
		var trex box.TrackExtendsBox
		if err := trex.Unmarshal(content); err != nil {
			return badBox(typ)
		}
		if t := e.trackByID(trex.TrackID); t != nil {
			t.defaultSampleDescriptionIndex = trex.DefaultSampleDescriptionIndex
			t.defaultSampleDuration = trex.DefaultSampleDuration
			t.defaultSampleSize = trex.DefaultSampleSize
			t.defaultSampleFlags = trex.DefaultSampleFlags
		}

	case box.TypeUUID:
		if dataSize < 16 {
			break
		}
		ext, err := e.readRange(dataOffset, 16)
		if err != nil {
			return err
		}
		if bytes.Equal(ext, box.UUIDPSSH[:]) {
			content, err := e.readRange(dataOffset+16, dataSize-16)
			if err != nil {
				return err
			}
			var pssh box.ProtectionSystemHeaderBox
			if err := pssh.Unmarshal(content); err != nil {
				return badBox(typ)
			}
			e.meta.PSSH = append(e.meta.PSSH, PSSHeader{
				SystemID: pssh.SystemID,
				Data:     pssh.Data,
			})
		}

	case box.TypeDATA:
		if len(path) == 6 && underMetaDataPath(path) {
			if err := e.parseMetaDataAtom(dataOffset, dataSize, path[4]); err != nil {
				return err
			}
		}
	}

	*offset = stop
	return nil
}

func (e *Extractor) parseSampleTableBox(t *Track, typ [4]byte, content []byte) error {
	st := t.samples
	var err error
	switch typ {
	case box.TypeSTTS:
		b := new(box.TimeToSampleBox)
		if err = b.Unmarshal(content); err == nil {
			st.SetTimeToSample(b)
		}
	case box.TypeCTTS:
		b := new(box.CompositionOffsetBox)
		if err = b.Unmarshal(content); err == nil {
			st.SetCompositionOffsets(b)
		}
	case box.TypeSTSC:
		b := new(box.SampleToChunkBox)
		if err = b.Unmarshal(content); err == nil {
			st.SetSampleToChunk(b)
		}
	case box.TypeSTSZ, box.TypeSTZ2:
		b := new(box.SampleSizeBox)
		if typ == box.TypeSTZ2 {
			err = b.UnmarshalCompact(content)
		} else {
			err = b.Unmarshal(content)
		}
		if err == nil {
			st.SetSampleSizes(b)
			t.MaxInputSize = st.MaxSampleSize() + 10*2
		}
	case box.TypeSTCO, box.TypeCO64:
		b := new(box.ChunkOffsetBox)
		if typ == box.TypeCO64 {
			err = b.Unmarshal64(content)
		} else {
			err = b.Unmarshal(content)
		}
		if err == nil {
			st.SetChunkOffsets(b)
		}
	case box.TypeSTSS:
		b := new(box.SyncSampleBox)
		if err = b.Unmarshal(content); err == nil {
			st.SetSyncSamples(b)
		}
	}
	if err != nil {
		return badBox(typ)
	}
	return nil
}

func metaString(buf []byte) string {
	if len(buf) <= 8 {
		return ""
	}
	return string(buf[8:])
}

// parseMetaDataAtom decodes one ilst data box. parent names the tag.
func (e *Extractor) parseMetaDataAtom(off, size int64, parent [4]byte) error {
	if size < 4 {
		return fmt.Errorf("%w: short data atom", ErrMalformed)
	}
	buf, err := e.readRange(off, size)
	if err != nil {
		return err
	}
	flags := binary.BigEndian.Uint32(buf)
	switch parent {
	case box.TypeTitle:
		e.meta.Title = metaString(buf)
	case box.TypeAlbum:
		e.meta.Album = metaString(buf)
	case box.TypeArtist:
		e.meta.Artist = metaString(buf)
	case box.TypeAlbumArtist:
		e.meta.AlbumArtist = metaString(buf)
	case box.TypeWriter:
		e.meta.Writer = metaString(buf)
	case box.TypeDay:
		e.meta.Year = metaString(buf)
	case box.TypeGenreName:
		e.meta.Genre = metaString(buf)
	case box.TypeGenreCode:
		if flags == 1 {
			// some writers store a free-form string under gnre
			e.meta.Genre = metaString(buf)
		} else if size >= 9 {
			// iTunes genre codes are 1-based ID3v1 codes
			code := int(buf[size-1]) - 1
			if code < 0 {
				code = 255
			}
			e.meta.Genre = strconv.Itoa(code)
		}
	case box.TypeTrackNum:
		if size == 16 && flags == 0 {
			e.meta.TrackNumber = fmt.Sprintf("%d/%d", buf[size-5], buf[size-3])
		}
	case box.TypeDiscNum:
		if size == 14 && flags == 0 {
			e.meta.DiscNumber = fmt.Sprintf("%d/%d", buf[size-3], buf[size-1])
		}
	case box.TypeCoverArt:
		if size > 8 {
			e.meta.AlbumArt = buf[8:]
		}
	}
	return nil
}
