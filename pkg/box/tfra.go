package box

import (
	"encoding/binary"

	"m7s.live/bmff/pkg/util"
)

type TfraEntry struct {
	Time         uint64
	MoofOffset   uint64
	TrafNumber   uint32
	TrunNumber   uint32
	SampleNumber uint32
}

// TrackFragmentRandomAccessBox indexes sync samples of one track. The byte
// width of the three trailing numbers is 1..4, encoded as 2-bit subfields
// of the reserved word.
type TrackFragmentRandomAccessBox struct {
	Version byte
	TrackID uint32
	Entries []TfraEntry
}

func (b *TrackFragmentRandomAccessBox) Unmarshal(content []byte) error {
	if len(content) < 16 {
		return ErrBadBox
	}
	b.Version = content[0]
	b.TrackID = u32(content[4:])
	trafLen := int(content[11]>>4&3) + 1
	trunLen := int(content[11]>>2&3) + 1
	sampleLen := int(content[11]&3) + 1
	count := u32(content[12:])
	timeLen := 4
	if b.Version == 1 {
		timeLen = 8
	}
	entryLen := 2*timeLen + trafLen + trunLen + sampleLen
	if uint64(len(content)) < 16+uint64(count)*uint64(entryLen) {
		return ErrBadBox
	}
	b.Entries = make([]TfraEntry, count)
	off := 16
	for i := range b.Entries {
		e := &b.Entries[i]
		if b.Version == 1 {
			e.Time = u64(content[off:])
			e.MoofOffset = u64(content[off+8:])
		} else {
			e.Time = uint64(u32(content[off:]))
			e.MoofOffset = uint64(u32(content[off+4:]))
		}
		off += 2 * timeLen
		e.TrafNumber = util.ReadBE[uint32](content[off : off+trafLen])
		off += trafLen
		e.TrunNumber = util.ReadBE[uint32](content[off : off+trunLen])
		off += trunLen
		e.SampleNumber = util.ReadBE[uint32](content[off : off+sampleLen])
		off += sampleLen
	}
	return nil
}

// Marshal always writes 4-byte traf/trun/sample numbers.
func (b *TrackFragmentRandomAccessBox) Marshal() []byte {
	content := make([]byte, 16, 16+28*len(b.Entries))
	content[0] = b.Version
	util.PutBE(content[4:8], b.TrackID)
	content[11] = 3<<4 | 3<<2 | 3
	util.PutBE(content[12:16], uint32(len(b.Entries)))
	for _, e := range b.Entries {
		if b.Version == 1 {
			content = binary.BigEndian.AppendUint64(content, e.Time)
			content = binary.BigEndian.AppendUint64(content, e.MoofOffset)
		} else {
			content = binary.BigEndian.AppendUint32(content, uint32(e.Time))
			content = binary.BigEndian.AppendUint32(content, uint32(e.MoofOffset))
		}
		content = binary.BigEndian.AppendUint32(content, e.TrafNumber)
		content = binary.BigEndian.AppendUint32(content, e.TrunNumber)
		content = binary.BigEndian.AppendUint32(content, e.SampleNumber)
	}
	return Marshal(TypeTFRA, content)
}

// MovieFragmentRandomAccessOffsetBox closes an mfra box; ParentSize is the
// total size of the enclosing mfra, used to locate it from end of file.
type MovieFragmentRandomAccessOffsetBox struct {
	ParentSize uint32
}

func (b *MovieFragmentRandomAccessOffsetBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	b.ParentSize = u32(content[4:])
	return nil
}

func (b *MovieFragmentRandomAccessOffsetBox) Marshal() []byte {
	content := make([]byte, 8)
	util.PutBE(content[4:8], b.ParentSize)
	return Marshal(TypeMFRO, content)
}
