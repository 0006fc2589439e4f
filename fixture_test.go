package bmff

import (
	"encoding/binary"

	"m7s.live/bmff/pkg/box"
)

var (
	brandIsom = [4]byte{'i', 's', 'o', 'm'}
	brandMp42 = [4]byte{'m', 'p', '4', '2'}
	hdlrSoun  = [4]byte{'s', 'o', 'u', 'n'}
	hdlrVide  = [4]byte{'v', 'i', 'd', 'e'}
)

// AAC-LC, 44100 Hz, stereo
var aacASC = []byte{0x12, 0x10}

// version 1, 4-byte NAL lengths, one SPS and one PPS
var avcRecord = []byte{
	1, 0x42, 0x00, 0x1e, 0xff,
	0xe1, 0x00, 0x02, 0x67, 0x42,
	0x01, 0x00, 0x02, 0x68, 0xce,
}

func makeFtyp() []byte {
	return (&box.FileTypeBox{
		MajorBrand:       brandIsom,
		MinorVersion:     0x200,
		CompatibleBrands: [][4]byte{brandIsom, brandMp42},
	}).Marshal()
}

func ilstString(name [4]byte, s string) []byte {
	content := make([]byte, 8, 8+len(s))
	content[3] = 1 // UTF-8
	content = append(content, s...)
	return box.Container(name, box.Marshal(box.TypeDATA, content))
}

func ilstData(name [4]byte, flags uint32, payload []byte) []byte {
	content := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(content, flags)
	content = append(content, payload...)
	return box.Container(name, box.Marshal(box.TypeDATA, content))
}

func makeUdta(ilstChildren ...[]byte) []byte {
	ilst := box.Container(box.TypeILST, ilstChildren...)
	meta := box.MarshalFull(box.TypeMETA, 0, 0, ilst)
	return box.Container(box.TypeUDTA, meta)
}

type flatAudioOptions struct {
	tkhd           []byte // overrides the generated tkhd when set
	udta           []byte
	asc            []byte // audio specific config, aacASC when nil
	twoStsdEntries bool
	prependPssh    *box.ProtectionSystemHeaderBox
	sampleSizes    []uint32
	sampleDeltas   uint32
}

// buildFlatAudio assembles ftyp [+pssh] +moov+mdat with a single AAC
// track. Sample data bytes are the sample index repeated.
func buildFlatAudio(opt flatAudioOptions) []byte {
	if opt.asc == nil {
		opt.asc = aacASC
	}
	if opt.sampleSizes == nil {
		opt.sampleSizes = []uint32{10, 20, 30, 40}
	}
	if opt.sampleDeltas == 0 {
		opt.sampleDeltas = 1000
	}
	count := uint32(len(opt.sampleSizes))
	duration := uint64(count * opt.sampleDeltas)

	var mdatPayload []byte
	for i, size := range opt.sampleSizes {
		for j := uint32(0); j < size; j++ {
			mdatPayload = append(mdatPayload, byte(i))
		}
	}
	mdat := box.Marshal(box.TypeMDAT, mdatPayload)

	build := func(chunkOffset uint64) []byte {
		entry := (&box.AudioSampleEntry{
			CodecType:          box.TypeMP4A,
			DataReferenceIndex: 1,
			ChannelCount:       1, // overridden by the esds config
			SampleSize:         16,
			SampleRate:         22050,
		}).Marshal(box.MakeEsds(1, 0x40, opt.asc))
		stsd := box.MakeStsd(entry)
		if opt.twoStsdEntries {
			stsd = box.MakeStsd(entry, entry)
		}
		stbl := box.Container(box.TypeSTBL,
			stsd,
			(&box.TimeToSampleBox{Entries: []box.SttsEntry{{SampleCount: count, SampleDelta: opt.sampleDeltas}}}).Marshal(),
			(&box.SampleToChunkBox{Entries: []box.StscEntry{{FirstChunk: 1, SamplesPerChunk: count, SampleDescriptionIndex: 1}}}).Marshal(),
			(&box.SampleSizeBox{Sizes: opt.sampleSizes}).Marshal(),
			(&box.ChunkOffsetBox{Offsets: []uint64{chunkOffset}}).Marshal(),
		)
		minf := box.Container(box.TypeMINF, box.MakeSmhd(), box.MakeDinf(), stbl)
		mdia := box.Container(box.TypeMDIA,
			(&box.MediaHeaderBox{Timescale: 1000, Duration: duration}).Marshal(),
			(&box.HandlerBox{HandlerType: hdlrSoun, Name: "SoundHandler"}).Marshal(),
			minf)
		tkhd := opt.tkhd
		if tkhd == nil {
			tkhd = (&box.TrackHeaderBox{TrackID: 1, Duration: duration}).Marshal()
		}
		trak := box.Container(box.TypeTRAK, tkhd, mdia)
		moovChildren := [][]byte{
			(&box.MovieHeaderBox{CreationTime: epochOffset1904, Timescale: 1000, Duration: duration}).Marshal(),
			trak,
		}
		if opt.udta != nil {
			moovChildren = append(moovChildren, opt.udta)
		}
		return box.Container(box.TypeMOOV, moovChildren...)
	}

	ftyp := makeFtyp()
	var pssh []byte
	if opt.prependPssh != nil {
		pssh = opt.prependPssh.Marshal()
	}
	moov := build(0)
	chunkOffset := uint64(len(ftyp) + len(pssh) + len(moov) + 8)
	moov = build(chunkOffset)

	out := append([]byte{}, ftyp...)
	out = append(out, pssh...)
	out = append(out, moov...)
	return append(out, mdat...)
}

// buildFlatVideo assembles a one-track AVC movie whose single sample
// holds two NAL units of 10 and 20 bytes.
func buildFlatVideo() []byte {
	sample := make([]byte, 0, 38)
	sample = binary.BigEndian.AppendUint32(sample, 10)
	for i := 0; i < 10; i++ {
		sample = append(sample, 0xaa)
	}
	sample = binary.BigEndian.AppendUint32(sample, 20)
	for i := 0; i < 20; i++ {
		sample = append(sample, 0xbb)
	}
	mdat := box.Marshal(box.TypeMDAT, sample)

	build := func(chunkOffset uint64) []byte {
		entry := (&box.VisualSampleEntry{
			CodecType:          box.TypeAVC1,
			DataReferenceIndex: 1,
			Width:              320,
			Height:             240,
		}).Marshal((&box.AVCConfigurationBox{Record: avcRecord}).Marshal())
		stbl := box.Container(box.TypeSTBL,
			box.MakeStsd(entry),
			(&box.TimeToSampleBox{Entries: []box.SttsEntry{{SampleCount: 1, SampleDelta: 1000}}}).Marshal(),
			(&box.SampleToChunkBox{Entries: []box.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1}}}).Marshal(),
			(&box.SampleSizeBox{Sizes: []uint32{uint32(len(sample))}}).Marshal(),
			(&box.ChunkOffsetBox{Offsets: []uint64{chunkOffset}}).Marshal(),
			(&box.SyncSampleBox{SampleNumbers: []uint32{1}}).Marshal(),
		)
		minf := box.Container(box.TypeMINF, box.MakeVmhd(), box.MakeDinf(), stbl)
		mdia := box.Container(box.TypeMDIA,
			(&box.MediaHeaderBox{Timescale: 1000, Duration: 1000}).Marshal(),
			(&box.HandlerBox{HandlerType: hdlrVide, Name: "VideoHandler"}).Marshal(),
			minf)
		trak := box.Container(box.TypeTRAK,
			(&box.TrackHeaderBox{TrackID: 1, Duration: 1000}).Marshal(), mdia)
		return box.Container(box.TypeMOOV,
			(&box.MovieHeaderBox{Timescale: 1000, Duration: 1000}).Marshal(), trak)
	}

	ftyp := makeFtyp()
	moov := build(0)
	chunkOffset := uint64(len(ftyp) + len(moov) + 8)
	moov = build(chunkOffset)

	out := append([]byte{}, ftyp...)
	out = append(out, moov...)
	return append(out, mdat...)
}

// buildFragmented assembles a fragmented AVC movie: three moof+mdat pairs
// with two samples each, closed by an mfra indexing the first sample of
// every fragment. Sample durations come from the trex default (1000 at
// timescale 1000). Each sample is one NAL unit; sizes grow per fragment
// so the largest sync sample is in the last one.
func buildFragmented(withMfra, withTfdt bool) []byte {
	entry := (&box.VisualSampleEntry{
		CodecType:          box.TypeAVC1,
		DataReferenceIndex: 1,
		Width:              320,
		Height:             240,
	}).Marshal((&box.AVCConfigurationBox{Record: avcRecord}).Marshal())
	stbl := box.Container(box.TypeSTBL,
		box.MakeStsd(entry),
		(&box.TimeToSampleBox{}).Marshal(),
		(&box.SampleToChunkBox{}).Marshal(),
		(&box.SampleSizeBox{}).Marshal(),
		(&box.ChunkOffsetBox{}).Marshal(),
	)
	minf := box.Container(box.TypeMINF, box.MakeVmhd(), box.MakeDinf(), stbl)
	mdia := box.Container(box.TypeMDIA,
		(&box.MediaHeaderBox{Timescale: 1000}).Marshal(),
		(&box.HandlerBox{HandlerType: hdlrVide, Name: "VideoHandler"}).Marshal(),
		minf)
	trak := box.Container(box.TypeTRAK,
		(&box.TrackHeaderBox{TrackID: 1}).Marshal(), mdia)
	mvex := box.Container(box.TypeMVEX,
		(&box.MovieExtendsHeaderBox{FragmentDuration: 6000}).Marshal(),
		(&box.TrackExtendsBox{
			TrackID:                       1,
			DefaultSampleDescriptionIndex: 1,
			DefaultSampleDuration:         1000,
		}).Marshal())
	moov := box.Container(box.TypeMOOV,
		(&box.MovieHeaderBox{Timescale: 1000, Duration: 6000}).Marshal(),
		trak, mvex)

	out := append([]byte{}, makeFtyp()...)
	out = append(out, moov...)

	var tfraEntries []box.TfraEntry
	for frag := 0; frag < 3; frag++ {
		// one NAL per sample, payload grows with the fragment index
		var payload []byte
		var sizes []uint32
		for s := 0; s < 2; s++ {
			nal := make([]byte, 6+4*frag)
			for i := range nal {
				nal[i] = byte(0x10*frag + s)
			}
			sample := binary.BigEndian.AppendUint32(nil, uint32(len(nal)))
			sample = append(sample, nal...)
			payload = append(payload, sample...)
			sizes = append(sizes, uint32(len(sample)))
		}

		buildMoof := func(dataOffset int32) []byte {
			trun := &box.TrackRunBox{
				Flags:      box.TrunDataOffsetPresent | box.TrunSampleSizePresent,
				DataOffset: dataOffset,
				Entries: []box.TrunEntry{
					{Size: sizes[0]},
					{Size: sizes[1]},
				},
			}
			trafChildren := [][]byte{(&box.TrackFragmentHeaderBox{TrackID: 1}).Marshal()}
			if withTfdt {
				// anchored away from zero so accumulation alone cannot
				// produce these times
				trafChildren = append(trafChildren, (&box.TrackFragmentDecodeTimeBox{
					BaseMediaDecodeTime: uint64(1000 + frag*2000),
				}).Marshal())
			}
			trafChildren = append(trafChildren, trun.Marshal())
			traf := box.Container(box.TypeTRAF, trafChildren...)
			return box.Container(box.TypeMOOF,
				(&box.MovieFragmentHeaderBox{SequenceNumber: uint32(frag + 1)}).Marshal(),
				traf)
		}
		moof := buildMoof(0)
		moof = buildMoof(int32(len(moof)) + 8)
		moofOffset := int64(len(out))
		out = append(out, moof...)
		out = append(out, box.Marshal(box.TypeMDAT, payload)...)

		tfraEntries = append(tfraEntries, box.TfraEntry{
			Time:         uint64(frag * 2000),
			MoofOffset:   uint64(moofOffset),
			TrafNumber:   1,
			TrunNumber:   1,
			SampleNumber: 1,
		})
	}

	if withMfra {
		tfra := (&box.TrackFragmentRandomAccessBox{
			Version: 1,
			TrackID: 1,
			Entries: tfraEntries,
		}).Marshal()
		parentSize := uint32(8 + len(tfra) + 16)
		mfra := box.Container(box.TypeMFRA, tfra,
			(&box.MovieFragmentRandomAccessOffsetBox{ParentSize: parentSize}).Marshal())
		out = append(out, mfra...)
	}
	return out
}

// buildInterleaved assembles a fragmented movie with an AVC track (id 1)
// and an AAC track (id 2) whose fragments alternate in file order, one
// traf per moof: video, audio, video, audio. Two samples per fragment,
// durations from the trex defaults, no mfra.
func buildInterleaved() []byte {
	videoEntry := (&box.VisualSampleEntry{
		CodecType:          box.TypeAVC1,
		DataReferenceIndex: 1,
		Width:              320,
		Height:             240,
	}).Marshal((&box.AVCConfigurationBox{Record: avcRecord}).Marshal())
	audioEntry := (&box.AudioSampleEntry{
		CodecType:          box.TypeMP4A,
		DataReferenceIndex: 1,
		ChannelCount:       2,
		SampleSize:         16,
		SampleRate:         44100,
	}).Marshal(box.MakeEsds(1, 0x40, aacASC))

	emptyStbl := func(entry []byte) []byte {
		return box.Container(box.TypeSTBL,
			box.MakeStsd(entry),
			(&box.TimeToSampleBox{}).Marshal(),
			(&box.SampleToChunkBox{}).Marshal(),
			(&box.SampleSizeBox{}).Marshal(),
			(&box.ChunkOffsetBox{}).Marshal(),
		)
	}
	videoTrak := box.Container(box.TypeTRAK,
		(&box.TrackHeaderBox{TrackID: 1}).Marshal(),
		box.Container(box.TypeMDIA,
			(&box.MediaHeaderBox{Timescale: 1000}).Marshal(),
			(&box.HandlerBox{HandlerType: hdlrVide, Name: "VideoHandler"}).Marshal(),
			box.Container(box.TypeMINF, box.MakeVmhd(), box.MakeDinf(), emptyStbl(videoEntry))))
	audioTrak := box.Container(box.TypeTRAK,
		(&box.TrackHeaderBox{TrackID: 2}).Marshal(),
		box.Container(box.TypeMDIA,
			(&box.MediaHeaderBox{Timescale: 1000}).Marshal(),
			(&box.HandlerBox{HandlerType: hdlrSoun, Name: "SoundHandler"}).Marshal(),
			box.Container(box.TypeMINF, box.MakeSmhd(), box.MakeDinf(), emptyStbl(audioEntry))))
	mvex := box.Container(box.TypeMVEX,
		(&box.MovieExtendsHeaderBox{FragmentDuration: 4000}).Marshal(),
		(&box.TrackExtendsBox{
			TrackID:                       1,
			DefaultSampleDescriptionIndex: 1,
			DefaultSampleDuration:         1000,
		}).Marshal(),
		(&box.TrackExtendsBox{
			TrackID:                       2,
			DefaultSampleDescriptionIndex: 1,
			DefaultSampleDuration:         1000,
		}).Marshal())
	moov := box.Container(box.TypeMOOV,
		(&box.MovieHeaderBox{Timescale: 1000, Duration: 4000}).Marshal(),
		videoTrak, audioTrak, mvex)

	out := append([]byte{}, makeFtyp()...)
	out = append(out, moov...)

	seq := uint32(0)
	appendFragment := func(trackID uint32, fill byte, video bool) {
		seq++
		var payload []byte
		var sizes []uint32
		for s := 0; s < 2; s++ {
			var sample []byte
			if video {
				nal := make([]byte, 6)
				for i := range nal {
					nal[i] = fill + byte(s)
				}
				sample = binary.BigEndian.AppendUint32(nil, uint32(len(nal)))
				sample = append(sample, nal...)
			} else {
				sample = make([]byte, 8)
				for i := range sample {
					sample[i] = fill + byte(s)
				}
			}
			payload = append(payload, sample...)
			sizes = append(sizes, uint32(len(sample)))
		}

		buildMoof := func(dataOffset int32) []byte {
			trun := &box.TrackRunBox{
				Flags:      box.TrunDataOffsetPresent | box.TrunSampleSizePresent,
				DataOffset: dataOffset,
				Entries: []box.TrunEntry{
					{Size: sizes[0]},
					{Size: sizes[1]},
				},
			}
			traf := box.Container(box.TypeTRAF,
				(&box.TrackFragmentHeaderBox{TrackID: trackID}).Marshal(),
				trun.Marshal())
			return box.Container(box.TypeMOOF,
				(&box.MovieFragmentHeaderBox{SequenceNumber: seq}).Marshal(),
				traf)
		}
		moof := buildMoof(0)
		moof = buildMoof(int32(len(moof)) + 8)
		out = append(out, moof...)
		out = append(out, box.Marshal(box.TypeMDAT, payload)...)
	}
	appendFragment(1, 0x10, true)
	appendFragment(2, 0x50, false)
	appendFragment(1, 0x20, true)
	appendFragment(2, 0x60, false)
	return out
}
