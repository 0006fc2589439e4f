package box

import (
	"encoding/binary"

	"m7s.live/bmff/pkg/util"
)

// tfhd flags
const (
	TfhdBaseDataOffsetPresent        = 0x01
	TfhdSampleDescriptionIdxPresent  = 0x02
	TfhdDefaultSampleDurationPresent = 0x08
	TfhdDefaultSampleSizePresent     = 0x10
	TfhdDefaultSampleFlagsPresent    = 0x20
	TfhdDurationIsEmpty              = 0x010000
	TfhdDefaultBaseIsMoof            = 0x020000
)

// trun flags
const (
	TrunDataOffsetPresent            = 0x01
	TrunFirstSampleFlagsPresent      = 0x04
	TrunSampleDurationPresent        = 0x100
	TrunSampleSizePresent            = 0x200
	TrunSampleFlagsPresent           = 0x400
	TrunSampleCompositionTimePresent = 0x800
)

type TrackExtendsBox struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func (b *TrackExtendsBox) Unmarshal(content []byte) error {
	if len(content) < 24 {
		return ErrBadBox
	}
	b.TrackID = u32(content[4:])
	b.DefaultSampleDescriptionIndex = u32(content[8:])
	b.DefaultSampleDuration = u32(content[12:])
	b.DefaultSampleSize = u32(content[16:])
	b.DefaultSampleFlags = u32(content[20:])
	return nil
}

func (b *TrackExtendsBox) Marshal() []byte {
	content := make([]byte, 24)
	util.PutBE(content[4:8], b.TrackID)
	util.PutBE(content[8:12], b.DefaultSampleDescriptionIndex)
	util.PutBE(content[12:16], b.DefaultSampleDuration)
	util.PutBE(content[16:20], b.DefaultSampleSize)
	util.PutBE(content[20:24], b.DefaultSampleFlags)
	return Marshal(TypeTREX, content)
}

type MovieFragmentHeaderBox struct {
	SequenceNumber uint32
}

func (b *MovieFragmentHeaderBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	b.SequenceNumber = u32(content[4:])
	return nil
}

func (b *MovieFragmentHeaderBox) Marshal() []byte {
	content := make([]byte, 8)
	util.PutBE(content[4:8], b.SequenceNumber)
	return Marshal(TypeMFHD, content)
}

type TrackFragmentHeaderBox struct {
	Flags                  uint32
	TrackID                uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

func (b *TrackFragmentHeaderBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	b.Flags = util.ReadBE[uint32](content[1:4])
	b.TrackID = u32(content[4:])
	off := 8
	need := func(n int) bool { return len(content) >= off+n }
	if b.Flags&TfhdBaseDataOffsetPresent != 0 {
		if !need(8) {
			return ErrBadBox
		}
		b.BaseDataOffset = u64(content[off:])
		off += 8
	}
	if b.Flags&TfhdSampleDescriptionIdxPresent != 0 {
		if !need(4) {
			return ErrBadBox
		}
		b.SampleDescriptionIndex = u32(content[off:])
		off += 4
	}
	if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
		if !need(4) {
			return ErrBadBox
		}
		b.DefaultSampleDuration = u32(content[off:])
		off += 4
	}
	if b.Flags&TfhdDefaultSampleSizePresent != 0 {
		if !need(4) {
			return ErrBadBox
		}
		b.DefaultSampleSize = u32(content[off:])
		off += 4
	}
	if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		if !need(4) {
			return ErrBadBox
		}
		b.DefaultSampleFlags = u32(content[off:])
	}
	return nil
}

func (b *TrackFragmentHeaderBox) Marshal() []byte {
	content := make([]byte, 4, 36)
	util.PutBE(content[1:4], b.Flags)
	content = binary.BigEndian.AppendUint32(content, b.TrackID)
	if b.Flags&TfhdBaseDataOffsetPresent != 0 {
		content = binary.BigEndian.AppendUint64(content, b.BaseDataOffset)
	}
	if b.Flags&TfhdSampleDescriptionIdxPresent != 0 {
		content = binary.BigEndian.AppendUint32(content, b.SampleDescriptionIndex)
	}
	if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
		content = binary.BigEndian.AppendUint32(content, b.DefaultSampleDuration)
	}
	if b.Flags&TfhdDefaultSampleSizePresent != 0 {
		content = binary.BigEndian.AppendUint32(content, b.DefaultSampleSize)
	}
	if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		content = binary.BigEndian.AppendUint32(content, b.DefaultSampleFlags)
	}
	return Marshal(TypeTFHD, content)
}

// TrackFragmentDecodeTimeBox anchors a fragment's first decode time
// absolutely, overriding accumulation across fragments.
type TrackFragmentDecodeTimeBox struct {
	Version             byte
	BaseMediaDecodeTime uint64
}

func (b *TrackFragmentDecodeTimeBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	b.Version = content[0]
	if b.Version == 1 {
		if len(content) < 12 {
			return ErrBadBox
		}
		b.BaseMediaDecodeTime = u64(content[4:])
	} else {
		b.BaseMediaDecodeTime = uint64(u32(content[4:]))
	}
	return nil
}

func (b *TrackFragmentDecodeTimeBox) Marshal() []byte {
	content := make([]byte, 12)
	content[0] = 1
	binary.BigEndian.PutUint64(content[4:], b.BaseMediaDecodeTime)
	return Marshal(TypeTFDT, content)
}

type TrunEntry struct {
	Duration          uint32
	Size              uint32
	Flags             uint32
	CompositionOffset uint32
}

type TrackRunBox struct {
	Flags            uint32
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrunEntry
}

func (b *TrackRunBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	b.Flags = util.ReadBE[uint32](content[1:4])
	count := u32(content[4:])
	off := 8
	if b.Flags&TrunDataOffsetPresent != 0 {
		if len(content) < off+4 {
			return ErrBadBox
		}
		b.DataOffset = int32(u32(content[off:]))
		off += 4
	}
	if b.Flags&TrunFirstSampleFlagsPresent != 0 {
		if len(content) < off+4 {
			return ErrBadBox
		}
		b.FirstSampleFlags = u32(content[off:])
		off += 4
	}
	perSample := 0
	for _, flag := range []uint32{TrunSampleDurationPresent, TrunSampleSizePresent,
		TrunSampleFlagsPresent, TrunSampleCompositionTimePresent} {
		if b.Flags&flag != 0 {
			perSample += 4
		}
	}
	if uint64(len(content)) < uint64(off)+uint64(count)*uint64(perSample) {
		return ErrBadBox
	}
	b.Entries = make([]TrunEntry, count)
	for i := range b.Entries {
		if b.Flags&TrunSampleDurationPresent != 0 {
			b.Entries[i].Duration = u32(content[off:])
			off += 4
		}
		if b.Flags&TrunSampleSizePresent != 0 {
			b.Entries[i].Size = u32(content[off:])
			off += 4
		}
		if b.Flags&TrunSampleFlagsPresent != 0 {
			b.Entries[i].Flags = u32(content[off:])
			off += 4
		}
		if b.Flags&TrunSampleCompositionTimePresent != 0 {
			b.Entries[i].CompositionOffset = u32(content[off:])
			off += 4
		}
	}
	return nil
}

func (b *TrackRunBox) Marshal() []byte {
	content := make([]byte, 8, 16+16*len(b.Entries))
	util.PutBE(content[1:4], b.Flags)
	util.PutBE(content[4:8], uint32(len(b.Entries)))
	if b.Flags&TrunDataOffsetPresent != 0 {
		content = binary.BigEndian.AppendUint32(content, uint32(b.DataOffset))
	}
	if b.Flags&TrunFirstSampleFlagsPresent != 0 {
		content = binary.BigEndian.AppendUint32(content, b.FirstSampleFlags)
	}
	for _, e := range b.Entries {
		if b.Flags&TrunSampleDurationPresent != 0 {
			content = binary.BigEndian.AppendUint32(content, e.Duration)
		}
		if b.Flags&TrunSampleSizePresent != 0 {
			content = binary.BigEndian.AppendUint32(content, e.Size)
		}
		if b.Flags&TrunSampleFlagsPresent != 0 {
			content = binary.BigEndian.AppendUint32(content, e.Flags)
		}
		if b.Flags&TrunSampleCompositionTimePresent != 0 {
			content = binary.BigEndian.AppendUint32(content, e.CompositionOffset)
		}
	}
	return Marshal(TypeTRUN, content)
}
