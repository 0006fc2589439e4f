package box

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

const (
	BasicBoxLen = 8
	FullBoxLen  = 12
)

var ErrBadBox = errors.New("truncated or malformed box")

func f(s string) [4]byte {
	return [4]byte{s[0], s[1], s[2], s[3]}
}

var (
	TypeFTYP = f("ftyp")
	TypeMOOV = f("moov")
	TypeMVHD = f("mvhd")
	TypeTRAK = f("trak")
	TypeTKHD = f("tkhd")
	TypeMDIA = f("mdia")
	TypeMDHD = f("mdhd")
	TypeHDLR = f("hdlr")
	TypeMINF = f("minf")
	TypeVMHD = f("vmhd")
	TypeSMHD = f("smhd")
	TypeDINF = f("dinf")
	TypeDREF = f("dref")
	TypeURL  = f("url ")
	TypeSTBL = f("stbl")
	TypeSTSD = f("stsd")
	TypeSTTS = f("stts")
	TypeCTTS = f("ctts")
	TypeSTSC = f("stsc")
	TypeSTSZ = f("stsz")
	TypeSTZ2 = f("stz2")
	TypeSTCO = f("stco")
	TypeCO64 = f("co64")
	TypeSTSS = f("stss")
	TypeEDTS = f("edts")
	TypeUDTA = f("udta")
	TypeMETA = f("meta")
	TypeILST = f("ilst")
	TypeDATA = f("data")
	TypeCPRT = f("cprt")
	TypeMVEX = f("mvex")
	TypeMEHD = f("mehd")
	TypeTREX = f("trex")
	TypeMOOF = f("moof")
	TypeMFHD = f("mfhd")
	TypeTRAF = f("traf")
	TypeTFHD = f("tfhd")
	TypeTFDT = f("tfdt")
	TypeTRUN = f("trun")
	TypeMFRA = f("mfra")
	TypeTFRA = f("tfra")
	TypeMFRO = f("mfro")
	TypeMDAT = f("mdat")
	TypeFREE = f("free")
	TypeWIDE = f("wide")
	TypeUUID = f("uuid")

	TypeMP4A = f("mp4a")
	TypeSAMR = f("samr")
	TypeSAWB = f("sawb")
	TypeMP4V = f("mp4v")
	TypeS263 = f("s263")
	TypeAVC1 = f("avc1")
	TypeAVCC = f("avcC")
	TypeESDS = f("esds")

	TypeTitle       = f("\xa9nam")
	TypeAlbum       = f("\xa9alb")
	TypeArtist      = f("\xa9ART")
	TypeAlbumArtist = f("aART")
	TypeDay         = f("\xa9day")
	TypeWriter      = f("\xa9wrt")
	TypeCoverArt    = f("covr")
	TypeGenreCode   = f("gnre")
	TypeGenreName   = f("\xa9gen")
	TypeTrackNum    = f("trkn")
	TypeDiscNum     = f("disk")
)

// PIFF extended box types carried inside "uuid" boxes.
var (
	UUIDPSSH             = uuid.MustParse("d08a4f18-10f3-4a82-b6c8-32d8aba183d3")
	UUIDSampleEncryption = uuid.MustParse("a2394f52-5a9b-4f14-a244-6c427c648df4")
)

func u16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func u32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func u64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// Marshal wraps content slices in a box header of the given type.
func Marshal(typ [4]byte, content ...[]byte) []byte {
	size := BasicBoxLen
	for _, c := range content {
		size += len(c)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(size))
	out = append(out, typ[:]...)
	for _, c := range content {
		out = append(out, c...)
	}
	return out
}

// MarshalFull is Marshal with a version and 24-bit flags word prepended.
func MarshalFull(typ [4]byte, version byte, flags uint32, content ...[]byte) []byte {
	vf := []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
	return Marshal(typ, append([][]byte{vf}, content...)...)
}

// MarshalUUID builds a "uuid" box whose content starts with the 16-byte
// extended type.
func MarshalUUID(ext uuid.UUID, content ...[]byte) []byte {
	return Marshal(TypeUUID, append([][]byte{ext[:]}, content...)...)
}

// Container nests already-marshalled child boxes.
func Container(typ [4]byte, children ...[]byte) []byte {
	return Marshal(typ, children...)
}
