package bmff

import (
	"strings"

	"github.com/yapingcat/gomedia/go-codec"
	"m7s.live/bmff/pkg/box"
)

// Track is one media stream of the presentation. Fields are filled while
// the moov box is parsed; for fragmented movies the fragment index keeps
// growing as moof boxes are decoded.
type Track struct {
	ID         uint32
	MIMEType   string
	Timescale  uint32
	DurationUs int64

	// video
	Width  uint16
	Height uint16

	// audio
	ChannelCount uint16
	SampleRate   uint32

	// codec configuration. AVCConfig is the raw avcC record,
	// ESDescriptor the esds descriptor chain without version/flags.
	AVCConfig    []byte
	ESDescriptor []byte

	// MaxInputSize is a safe sample buffer size including the slack
	// needed for start code rewriting.
	MaxInputSize uint32

	skip          bool
	nextTimestamp uint64

	// per-track defaults from trex
	defaultSampleDescriptionIndex uint32
	defaultSampleDuration         uint32
	defaultSampleSize             uint32
	defaultSampleFlags            uint32

	samples   *SampleTable
	fragments *FragmentIndex
}

func (t *Track) IsVideo() bool { return strings.HasPrefix(t.MIMEType, "video/") }
func (t *Track) IsAudio() bool { return strings.HasPrefix(t.MIMEType, "audio/") }

// SampleTable exposes the flat sample index, nil for fragmented movies
// without one.
func (t *Track) SampleTable() *SampleTable { return t.samples }

// Fragments exposes the fragment index, nil for flat movies.
func (t *Track) Fragments() *FragmentIndex { return t.fragments }

// SPSPPS splits the avcC record into parameter sets, each prefixed with a
// four byte start code. Both slices are nil for non-AVC tracks.
func (t *Track) SPSPPS() (sps, pps [][]byte) {
	if len(t.AVCConfig) < 7 {
		return nil, nil
	}
	return codec.CovertExtradata(t.AVCConfig)
}

// nalLengthSize is the width of the per-NAL length prefix in samples.
func (t *Track) nalLengthSize() int {
	if len(t.AVCConfig) < 5 {
		return 4
	}
	return 1 + int(t.AVCConfig[4]&3)
}

// ThumbnailTimeUs picks a representative sync sample time for the track.
func (t *Track) ThumbnailTimeUs() (int64, error) {
	if t.fragments != nil {
		ts, err := t.fragments.ThumbnailTime()
		if err != nil {
			return 0, err
		}
		return int64(ts * 1000000 / uint64(t.Timescale)), nil
	}
	if t.samples == nil {
		return 0, ErrOutOfRange
	}
	ts, err := t.samples.ThumbnailTime()
	if err != nil {
		return 0, err
	}
	return int64(ts * 1000000 / uint64(t.Timescale)), nil
}

var mpeg4AudioSampleRates = [...]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// updateAudioInfo overrides the stsd channel count and sample rate with
// the values encoded in the MPEG-4 audio specific config, which win when
// the two disagree.
func (t *Track) updateAudioInfo(esd *box.ESDescriptorBox) error {
	if esd.ObjectTypeIndication == 0xe1 {
		// QCELP in mp4a, the config is not an audio specific config
		t.MIMEType = MIMETypeQCELP
		return nil
	}
	csd := esd.DecoderSpecificInfo
	if len(csd) < 2 {
		return nil
	}
	objectType := csd[0] >> 3
	if objectType == 31 {
		return ErrUnsupported
	}
	freqIndex := csd[0]&7<<1 | csd[1]>>7
	var rate uint32
	var channels uint8
	if freqIndex == 15 {
		if len(csd) < 5 {
			return ErrMalformed
		}
		rate = uint32(csd[1]&0x7f)<<17 | uint32(csd[2])<<9 |
			uint32(csd[3])<<1 | uint32(csd[4])>>7
		channels = csd[4] >> 3 & 15
	} else {
		if freqIndex == 13 || freqIndex == 14 {
			return ErrMalformed
		}
		rate = mpeg4AudioSampleRates[freqIndex]
		channels = csd[1] >> 3 & 15
	}
	if channels == 0 {
		return ErrUnsupported
	}
	t.SampleRate = rate
	t.ChannelCount = uint16(channels)
	return nil
}

// verify checks that the codec configuration required by the sample entry
// type actually arrived.
func (t *Track) verify() error {
	switch t.MIMEType {
	case MIMETypeAVC:
		if len(t.AVCConfig) == 0 {
			return ErrMalformed
		}
	case MIMETypeMPEG4Video, MIMETypeAAC:
		if len(t.ESDescriptor) == 0 {
			return ErrMalformed
		}
	}
	return nil
}
