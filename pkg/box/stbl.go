package box

import (
	"encoding/binary"

	"m7s.live/bmff/pkg/util"
)

type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

type TimeToSampleBox struct {
	Entries []SttsEntry
}

func (b *TimeToSampleBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	count := u32(content[4:])
	if uint64(len(content)) < 8+uint64(count)*8 {
		return ErrBadBox
	}
	b.Entries = make([]SttsEntry, count)
	for i := range b.Entries {
		b.Entries[i].SampleCount = u32(content[8+8*i:])
		b.Entries[i].SampleDelta = u32(content[12+8*i:])
	}
	return nil
}

func (b *TimeToSampleBox) Marshal() []byte {
	content := make([]byte, 8, 8+8*len(b.Entries))
	util.PutBE(content[4:8], uint32(len(b.Entries)))
	for _, e := range b.Entries {
		content = binary.BigEndian.AppendUint32(content, e.SampleCount)
		content = binary.BigEndian.AppendUint32(content, e.SampleDelta)
	}
	return Marshal(TypeSTTS, content)
}

type CttsEntry struct {
	SampleCount  uint32
	SampleOffset uint32
}

type CompositionOffsetBox struct {
	Entries []CttsEntry
}

func (b *CompositionOffsetBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	count := u32(content[4:])
	if uint64(len(content)) < 8+uint64(count)*8 {
		return ErrBadBox
	}
	b.Entries = make([]CttsEntry, count)
	for i := range b.Entries {
		b.Entries[i].SampleCount = u32(content[8+8*i:])
		b.Entries[i].SampleOffset = u32(content[12+8*i:])
	}
	return nil
}

func (b *CompositionOffsetBox) Marshal() []byte {
	content := make([]byte, 8, 8+8*len(b.Entries))
	util.PutBE(content[4:8], uint32(len(b.Entries)))
	for _, e := range b.Entries {
		content = binary.BigEndian.AppendUint32(content, e.SampleCount)
		content = binary.BigEndian.AppendUint32(content, e.SampleOffset)
	}
	return Marshal(TypeCTTS, content)
}

type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

type SampleToChunkBox struct {
	Entries []StscEntry
}

func (b *SampleToChunkBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	count := u32(content[4:])
	if uint64(len(content)) < 8+uint64(count)*12 {
		return ErrBadBox
	}
	b.Entries = make([]StscEntry, count)
	for i := range b.Entries {
		b.Entries[i].FirstChunk = u32(content[8+12*i:])
		b.Entries[i].SamplesPerChunk = u32(content[12+12*i:])
		b.Entries[i].SampleDescriptionIndex = u32(content[16+12*i:])
	}
	return nil
}

func (b *SampleToChunkBox) Marshal() []byte {
	content := make([]byte, 8, 8+12*len(b.Entries))
	util.PutBE(content[4:8], uint32(len(b.Entries)))
	for _, e := range b.Entries {
		content = binary.BigEndian.AppendUint32(content, e.FirstChunk)
		content = binary.BigEndian.AppendUint32(content, e.SamplesPerChunk)
		content = binary.BigEndian.AppendUint32(content, e.SampleDescriptionIndex)
	}
	return Marshal(TypeSTSC, content)
}

// SampleSizeBox covers both stsz and the compact stz2 form.
type SampleSizeBox struct {
	SampleSize uint32
	Sizes      []uint32
}

func (b *SampleSizeBox) Unmarshal(content []byte) error {
	if len(content) < 12 {
		return ErrBadBox
	}
	b.SampleSize = u32(content[4:])
	count := u32(content[8:])
	if b.SampleSize != 0 {
		// uniform size, but keep the count
		b.Sizes = make([]uint32, count)
		for i := range b.Sizes {
			b.Sizes[i] = b.SampleSize
		}
		return nil
	}
	if uint64(len(content)) < 12+uint64(count)*4 {
		return ErrBadBox
	}
	b.Sizes = make([]uint32, count)
	for i := range b.Sizes {
		b.Sizes[i] = u32(content[12+4*i:])
	}
	return nil
}

// UnmarshalCompact parses the stz2 layout with 4, 8 or 16 bit fields.
func (b *SampleSizeBox) UnmarshalCompact(content []byte) error {
	if len(content) < 12 {
		return ErrBadBox
	}
	fieldSize := uint32(content[7])
	count := u32(content[8:])
	b.SampleSize = 0
	b.Sizes = make([]uint32, count)
	switch fieldSize {
	case 4:
		if uint64(len(content)) < 12+(uint64(count)+1)/2 {
			return ErrBadBox
		}
		for i := range b.Sizes {
			c := content[12+i/2]
			if i%2 == 0 {
				b.Sizes[i] = uint32(c >> 4)
			} else {
				b.Sizes[i] = uint32(c & 0x0f)
			}
		}
	case 8:
		if uint64(len(content)) < 12+uint64(count) {
			return ErrBadBox
		}
		for i := range b.Sizes {
			b.Sizes[i] = uint32(content[12+i])
		}
	case 16:
		if uint64(len(content)) < 12+uint64(count)*2 {
			return ErrBadBox
		}
		for i := range b.Sizes {
			b.Sizes[i] = uint32(u16(content[12+2*i:]))
		}
	default:
		return ErrBadBox
	}
	return nil
}

func (b *SampleSizeBox) Marshal() []byte {
	content := make([]byte, 12, 12+4*len(b.Sizes))
	util.PutBE(content[4:8], b.SampleSize)
	util.PutBE(content[8:12], uint32(len(b.Sizes)))
	if b.SampleSize == 0 {
		for _, s := range b.Sizes {
			content = binary.BigEndian.AppendUint32(content, s)
		}
	}
	return Marshal(TypeSTSZ, content)
}

// ChunkOffsetBox covers stco and co64.
type ChunkOffsetBox struct {
	Offsets []uint64
}

func (b *ChunkOffsetBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	count := u32(content[4:])
	if uint64(len(content)) < 8+uint64(count)*4 {
		return ErrBadBox
	}
	b.Offsets = make([]uint64, count)
	for i := range b.Offsets {
		b.Offsets[i] = uint64(u32(content[8+4*i:]))
	}
	return nil
}

func (b *ChunkOffsetBox) Unmarshal64(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	count := u32(content[4:])
	if uint64(len(content)) < 8+uint64(count)*8 {
		return ErrBadBox
	}
	b.Offsets = make([]uint64, count)
	for i := range b.Offsets {
		b.Offsets[i] = u64(content[8+8*i:])
	}
	return nil
}

func (b *ChunkOffsetBox) Marshal() []byte {
	content := make([]byte, 8, 8+4*len(b.Offsets))
	util.PutBE(content[4:8], uint32(len(b.Offsets)))
	for _, o := range b.Offsets {
		content = binary.BigEndian.AppendUint32(content, uint32(o))
	}
	return Marshal(TypeSTCO, content)
}

type SyncSampleBox struct {
	SampleNumbers []uint32 // 1-based
}

func (b *SyncSampleBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	count := u32(content[4:])
	if uint64(len(content)) < 8+uint64(count)*4 {
		return ErrBadBox
	}
	b.SampleNumbers = make([]uint32, count)
	for i := range b.SampleNumbers {
		b.SampleNumbers[i] = u32(content[8+4*i:])
	}
	return nil
}

func (b *SyncSampleBox) Marshal() []byte {
	content := make([]byte, 8, 8+4*len(b.SampleNumbers))
	util.PutBE(content[4:8], uint32(len(b.SampleNumbers)))
	for _, n := range b.SampleNumbers {
		content = binary.BigEndian.AppendUint32(content, n)
	}
	return Marshal(TypeSTSS, content)
}

// MakeStsd nests sample entries under an stsd header.
func MakeStsd(entries ...[]byte) []byte {
	return MarshalFull(TypeSTSD, 0, 0,
		append([][]byte{util.GetBE(nil, uint32(len(entries)), 4)}, entries...)...)
}
