package box

import (
	"m7s.live/bmff/pkg/util"
)

const (
	AudioSampleEntryLen  = 28 // prefix read before child boxes
	VisualSampleEntryLen = 78
)

// AudioSampleEntry is the fixed-layout content prefix of mp4a, samr and
// sawb entries. Child boxes such as esds follow the prefix.
type AudioSampleEntry struct {
	CodecType          [4]byte
	DataReferenceIndex uint16
	ChannelCount       uint16
	SampleSize         uint16
	SampleRate         uint32
}

// Unmarshal parses the entry prefix. content starts right after the
// 8-byte box header and must hold at least AudioSampleEntryLen bytes.
func (b *AudioSampleEntry) Unmarshal(content []byte) error {
	if len(content) < AudioSampleEntryLen {
		return ErrBadBox
	}
	b.DataReferenceIndex = u16(content[6:])
	b.ChannelCount = u16(content[16:])
	b.SampleSize = u16(content[18:])
	b.SampleRate = u32(content[24:]) >> 16
	return nil
}

func (b *AudioSampleEntry) Marshal(children ...[]byte) []byte {
	content := make([]byte, AudioSampleEntryLen)
	util.PutBE(content[6:8], b.DataReferenceIndex)
	util.PutBE(content[16:18], b.ChannelCount)
	util.PutBE(content[18:20], b.SampleSize)
	util.PutBE(content[24:28], b.SampleRate<<16)
	return Marshal(b.CodecType, append([][]byte{content}, children...)...)
}

// VisualSampleEntry is the fixed-layout content prefix of mp4v, s263 and
// avc1 entries.
type VisualSampleEntry struct {
	CodecType          [4]byte
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
}

func (b *VisualSampleEntry) Unmarshal(content []byte) error {
	if len(content) < VisualSampleEntryLen {
		return ErrBadBox
	}
	b.DataReferenceIndex = u16(content[6:])
	b.Width = u16(content[24:])
	b.Height = u16(content[26:])
	return nil
}

func (b *VisualSampleEntry) Marshal(children ...[]byte) []byte {
	content := make([]byte, VisualSampleEntryLen)
	util.PutBE(content[6:8], b.DataReferenceIndex)
	util.PutBE(content[24:26], b.Width)
	util.PutBE(content[26:28], b.Height)
	util.PutBE(content[28:32], uint32(0x00480000)) // horiz dpi
	util.PutBE(content[32:36], uint32(0x00480000)) // vert dpi
	util.PutBE(content[40:42], uint16(1))          // frame count
	util.PutBE(content[74:76], uint16(0x0018))     // depth
	util.PutBE(content[76:78], uint16(0xffff))
	return Marshal(b.CodecType, append([][]byte{content}, children...)...)
}

// AVCConfigurationBox keeps the raw AVCDecoderConfigurationRecord; the
// interesting fields are exposed by accessors.
type AVCConfigurationBox struct {
	Record []byte
}

func (b *AVCConfigurationBox) Unmarshal(content []byte) error {
	if len(content) < 7 || content[0] != 1 {
		return ErrBadBox
	}
	b.Record = content
	return nil
}

// NALLengthSize is the byte width of the length prefix in front of each
// NAL unit inside samples.
func (b *AVCConfigurationBox) NALLengthSize() int {
	return 1 + int(b.Record[4]&3)
}

func (b *AVCConfigurationBox) Marshal() []byte {
	return Marshal(TypeAVCC, b.Record)
}
