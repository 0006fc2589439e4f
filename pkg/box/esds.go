package box

import (
	"github.com/yapingcat/gomedia/go-codec"
	"m7s.live/bmff/pkg/util"
)

// ESDescriptorBox holds the two pieces of an esds chain that matter for
// track setup: the object type indication from the DecoderConfigDescriptor
// and the nested DecoderSpecificInfo payload.
type ESDescriptorBox struct {
	ObjectTypeIndication uint8
	DecoderSpecificInfo  []byte
}

// Unmarshal walks the descriptor chain. content starts at the esds
// version/flags word, which must be zero.
func (b *ESDescriptorBox) Unmarshal(content []byte) error {
	if len(content) < 4 || u32(content) != 0 {
		return ErrBadBox
	}
	esd := content[4:]
	for len(esd) >= 2 {
		tag := esd[0]
		size := uint32(0)
		i := 1
		for {
			if i >= len(esd) {
				return ErrBadBox
			}
			c := esd[i]
			i++
			size = size<<7 | uint32(c&0x7f)
			if c&0x80 == 0 {
				break
			}
		}
		body := esd[i:]
		switch tag {
		case 0x03:
			if len(body) < 3 {
				return ErrBadBox
			}
			bs := codec.NewBitStream(body)
			bs.SkipBits(16) // ES_ID
			streamDependence := bs.GetBit()
			urlFlag := bs.GetBit()
			ocrFlag := bs.GetBit()
			bs.SkipBits(5) // streamPriority
			if streamDependence == 1 {
				bs.SkipBits(16)
			}
			if urlFlag == 1 {
				n := bs.Uint8(8)
				bs.SkipBits(int(n) * 8)
			}
			if ocrFlag == 1 {
				bs.SkipBits(16)
			}
			esd = bs.RemainData()
		case 0x04:
			if len(body) < 13 {
				return ErrBadBox
			}
			b.ObjectTypeIndication = body[0]
			esd = body[13:]
		case 0x05:
			if uint32(len(body)) < size {
				return ErrBadBox
			}
			b.DecoderSpecificInfo = body[:size]
			esd = body[size:]
		default:
			if uint32(len(body)) < size {
				esd = nil
			} else {
				esd = body[size:]
			}
		}
	}
	if b.ObjectTypeIndication == 0 {
		return ErrBadBox
	}
	return nil
}

// ffmpeg-style expandable size with three continuation bytes.
func descrHeader(tag uint8, size uint32) []byte {
	return []byte{tag,
		0x80 | byte(size>>21), 0x80 | byte(size>>14), 0x80 | byte(size>>7),
		byte(size & 0x7f)}
}

// MakeEsds builds a complete esds box for the given object type and
// decoder specific info.
func MakeEsds(trackID uint16, objectTypeIndication byte, dsi []byte) []byte {
	dsiDescr := append(descrHeader(0x05, uint32(len(dsi))), dsi...)
	dcd := descrHeader(0x04, uint32(13+len(dsiDescr)))
	dcd = append(dcd, objectTypeIndication, 0x15, 0, 0, 0)
	dcd = util.GetBE(dcd, uint32(128000), 4) // max bitrate
	dcd = util.GetBE(dcd, uint32(128000), 4) // avg bitrate
	dcd = append(dcd, dsiDescr...)
	sl := append(descrHeader(0x06, 1), 0x02)
	esd := descrHeader(0x03, uint32(3+len(dcd)+len(sl)))
	esd = append(esd, byte(trackID>>8), byte(trackID), 0)
	esd = append(esd, dcd...)
	esd = append(esd, sl...)
	return MarshalFull(TypeESDS, 0, 0, esd)
}
