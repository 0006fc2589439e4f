package box

import (
	"encoding/binary"

	"github.com/google/uuid"
	"m7s.live/bmff/pkg/util"
)

// senc flags
const (
	SencOverrideTrackEncryption = 0x1
	SencSubSampleEncryption     = 0x2
)

// ProtectionSystemHeaderBox is the PIFF pssh carried in a uuid box.
type ProtectionSystemHeaderBox struct {
	SystemID uuid.UUID
	Data     []byte
}

// Unmarshal parses the content following the 16-byte extended type.
func (b *ProtectionSystemHeaderBox) Unmarshal(content []byte) error {
	if len(content) < 24 {
		return ErrBadBox
	}
	copy(b.SystemID[:], content[4:20])
	size := u32(content[20:])
	if uint64(len(content)) < 24+uint64(size) {
		return ErrBadBox
	}
	b.Data = content[24 : 24+size]
	return nil
}

func (b *ProtectionSystemHeaderBox) Marshal() []byte {
	content := make([]byte, 4, 24+len(b.Data))
	content = append(content, b.SystemID[:]...)
	content = binary.BigEndian.AppendUint32(content, uint32(len(b.Data)))
	content = append(content, b.Data...)
	return MarshalUUID(UUIDPSSH, content)
}

type SubSampleEntry struct {
	ClearBytes     uint16
	EncryptedBytes uint32
}

type SencEntry struct {
	IV         []byte
	SubSamples []SubSampleEntry
}

// SampleEncryptionBox is the PIFF senc carried in a uuid box inside traf.
type SampleEncryptionBox struct {
	Flags       uint32
	AlgorithmID uint32
	IVSize      uint8
	KID         [16]byte
	Entries     []SencEntry
}

// Unmarshal parses the content following the 16-byte extended type. The IV
// size defaults to zero unless the override flag supplies one.
func (b *SampleEncryptionBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	b.Flags = util.ReadBE[uint32](content[1:4])
	off := 4
	if b.Flags&SencOverrideTrackEncryption != 0 {
		if len(content) < off+20 {
			return ErrBadBox
		}
		b.AlgorithmID = util.ReadBE[uint32](content[off : off+3])
		b.IVSize = content[off+3]
		copy(b.KID[:], content[off+4:])
		off += 20
	}
	if len(content) < off+4 {
		return ErrBadBox
	}
	count := u32(content[off:])
	off += 4
	b.Entries = make([]SencEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e SencEntry
		if len(content) < off+int(b.IVSize) {
			return ErrBadBox
		}
		e.IV = content[off : off+int(b.IVSize)]
		off += int(b.IVSize)
		if b.Flags&SencSubSampleEncryption != 0 {
			if len(content) < off+2 {
				return ErrBadBox
			}
			n := int(u16(content[off:]))
			off += 2
			if len(content) < off+6*n {
				return ErrBadBox
			}
			for j := 0; j < n; j++ {
				e.SubSamples = append(e.SubSamples, SubSampleEntry{
					ClearBytes:     u16(content[off:]),
					EncryptedBytes: u32(content[off+2:]),
				})
				off += 6
			}
		}
		b.Entries = append(b.Entries, e)
	}
	return nil
}

func (b *SampleEncryptionBox) Marshal() []byte {
	content := make([]byte, 4, 64)
	util.PutBE(content[1:4], b.Flags)
	if b.Flags&SencOverrideTrackEncryption != 0 {
		content = util.GetBE(content, b.AlgorithmID, 3)
		content = append(content, b.IVSize)
		content = append(content, b.KID[:]...)
	}
	content = binary.BigEndian.AppendUint32(content, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		content = append(content, e.IV...)
		if b.Flags&SencSubSampleEncryption != 0 {
			content = binary.BigEndian.AppendUint16(content, uint16(len(e.SubSamples)))
			for _, s := range e.SubSamples {
				content = binary.BigEndian.AppendUint16(content, s.ClearBytes)
				content = binary.BigEndian.AppendUint32(content, s.EncryptedBytes)
			}
		}
	}
	return MarshalUUID(UUIDSampleEncryption, content)
}
