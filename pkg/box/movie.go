package box

import (
	"encoding/binary"

	"m7s.live/bmff/pkg/util"
)

type FileTypeBox struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

func (b *FileTypeBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	copy(b.MajorBrand[:], content)
	b.MinorVersion = u32(content[4:])
	for i := 8; i+4 <= len(content); i += 4 {
		var brand [4]byte
		copy(brand[:], content[i:])
		b.CompatibleBrands = append(b.CompatibleBrands, brand)
	}
	return nil
}

func (b *FileTypeBox) Marshal() []byte {
	content := make([]byte, 0, 8+4*len(b.CompatibleBrands))
	content = append(content, b.MajorBrand[:]...)
	content = binary.BigEndian.AppendUint32(content, b.MinorVersion)
	for _, c := range b.CompatibleBrands {
		content = append(content, c[:]...)
	}
	return Marshal(TypeFTYP, content)
}

// MovieHeaderBox carries the presentation timescale and the file creation
// time used for the date tag.
type MovieHeaderBox struct {
	Version      uint8
	CreationTime uint64
	Timescale    uint32
	Duration     uint64
}

func (b *MovieHeaderBox) Unmarshal(content []byte) error {
	if len(content) < 4 {
		return ErrBadBox
	}
	b.Version = content[0]
	switch b.Version {
	case 1:
		if len(content) < 32 {
			return ErrBadBox
		}
		b.CreationTime = u64(content[4:])
		b.Timescale = u32(content[20:])
		b.Duration = u64(content[24:])
	case 0:
		if len(content) < 20 {
			return ErrBadBox
		}
		b.CreationTime = uint64(u32(content[4:]))
		b.Timescale = u32(content[12:])
		b.Duration = uint64(u32(content[16:]))
	default:
		return ErrBadBox
	}
	return nil
}

func (b *MovieHeaderBox) Marshal() []byte {
	content := make([]byte, 96)
	util.PutBE(content[4:8], uint32(b.CreationTime))
	util.PutBE(content[8:12], uint32(b.CreationTime))
	util.PutBE(content[12:16], b.Timescale)
	util.PutBE(content[16:20], uint32(b.Duration))
	util.PutBE(content[20:24], uint32(0x00010000)) // rate
	util.PutBE(content[24:26], uint16(0x0100))     // volume
	putIdentityMatrix(content[36:72])
	util.PutBE(content[92:96], uint32(0xffffffff)) // next track id
	return Marshal(TypeMVHD, content)
}

func putIdentityMatrix(m []byte) {
	util.PutBE(m[0:4], uint32(0x00010000))
	util.PutBE(m[16:20], uint32(0x00010000))
	util.PutBE(m[32:36], uint32(0x40000000))
}

// TrackHeaderBox validates the exact per-version box size before trusting
// any field offset.
type TrackHeaderBox struct {
	Version      uint8
	CreationTime uint64
	TrackID      uint32
	Duration     uint64
}

func (b *TrackHeaderBox) Unmarshal(content []byte) error {
	if len(content) < 4 {
		return ErrBadBox
	}
	b.Version = content[0]
	switch b.Version {
	case 1:
		if len(content) != 36+60 {
			return ErrBadBox
		}
		b.CreationTime = u64(content[4:])
		b.TrackID = u32(content[20:])
		b.Duration = u64(content[28:])
	case 0:
		if len(content) != 24+60 {
			return ErrBadBox
		}
		b.CreationTime = uint64(u32(content[4:]))
		b.TrackID = u32(content[12:])
		b.Duration = uint64(u32(content[20:]))
	default:
		return ErrBadBox
	}
	return nil
}

func (b *TrackHeaderBox) Marshal() []byte {
	content := make([]byte, 84)
	content[3] = 0x07 // enabled | in movie | in preview
	util.PutBE(content[4:8], uint32(b.CreationTime))
	util.PutBE(content[12:16], b.TrackID)
	util.PutBE(content[20:24], uint32(b.Duration))
	putIdentityMatrix(content[40:76])
	return Marshal(TypeTKHD, content)
}

type MediaHeaderBox struct {
	Version   uint8
	Timescale uint32
	Duration  uint64
}

func (b *MediaHeaderBox) Unmarshal(content []byte) error {
	if len(content) < 4 {
		return ErrBadBox
	}
	b.Version = content[0]
	switch b.Version {
	case 1:
		if len(content) < 32 {
			return ErrBadBox
		}
		b.Timescale = u32(content[20:])
		b.Duration = u64(content[24:])
	case 0:
		if len(content) < 20 {
			return ErrBadBox
		}
		b.Timescale = u32(content[12:])
		b.Duration = uint64(u32(content[16:]))
	default:
		return ErrBadBox
	}
	return nil
}

func (b *MediaHeaderBox) Marshal() []byte {
	content := make([]byte, 24)
	util.PutBE(content[12:16], b.Timescale)
	util.PutBE(content[16:20], uint32(b.Duration))
	util.PutBE(content[20:22], uint16(0x55c4)) // und
	return Marshal(TypeMDHD, content)
}

type HandlerBox struct {
	HandlerType [4]byte
	Name        string
}

func (b *HandlerBox) Unmarshal(content []byte) error {
	if len(content) < 24 {
		return ErrBadBox
	}
	copy(b.HandlerType[:], content[8:])
	if len(content) > 24 {
		b.Name = string(content[24 : len(content)-1])
	}
	return nil
}

func (b *HandlerBox) Marshal() []byte {
	content := make([]byte, 24, 25+len(b.Name))
	copy(content[8:], b.HandlerType[:])
	content = append(content, b.Name...)
	content = append(content, 0)
	return Marshal(TypeHDLR, content)
}

type MovieExtendsHeaderBox struct {
	Version          uint8
	FragmentDuration uint64
}

func (b *MovieExtendsHeaderBox) Unmarshal(content []byte) error {
	if len(content) < 8 {
		return ErrBadBox
	}
	b.Version = content[0]
	if b.Version == 1 {
		if len(content) < 12 {
			return ErrBadBox
		}
		b.FragmentDuration = u64(content[4:])
	} else {
		b.FragmentDuration = uint64(u32(content[4:]))
	}
	return nil
}

func (b *MovieExtendsHeaderBox) Marshal() []byte {
	content := make([]byte, 8)
	util.PutBE(content[4:8], uint32(b.FragmentDuration))
	return Marshal(TypeMEHD, content)
}

func MakeSmhd() []byte { return Marshal(TypeSMHD, make([]byte, 8)) }

func MakeVmhd() []byte {
	content := make([]byte, 12)
	content[3] = 1
	return Marshal(TypeVMHD, content)
}

func MakeDinf() []byte {
	url := MarshalFull(TypeURL, 0, 1)
	dref := MarshalFull(TypeDREF, 0, 0, []byte{0, 0, 0, 1}, url)
	return Container(TypeDINF, dref)
}
