package box

import (
	"bytes"
	"testing"
)

func content(t *testing.T, b []byte) []byte {
	t.Helper()
	if len(b) < 8 {
		t.Fatalf("box too short: %d bytes", len(b))
	}
	return b[8:]
}

func TestTfraNarrowNumberWidths(t *testing.T) {
	// version 0, 1-byte traf/trun/sample numbers
	raw := []byte{
		0, 0, 0, 0, // version/flags
		0, 0, 0, 7, // track id
		0, 0, 0, 0, // widths: all 2-bit subfields zero
		0, 0, 0, 2, // entry count
		0, 0, 0, 10, 0, 0, 1, 0, 1, 1, 1,
		0, 0, 0, 20, 0, 0, 2, 0, 1, 1, 2,
	}
	var tfra TrackFragmentRandomAccessBox
	if err := tfra.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if tfra.TrackID != 7 || len(tfra.Entries) != 2 {
		t.Fatalf("track %d, %d entries", tfra.TrackID, len(tfra.Entries))
	}
	e := tfra.Entries[1]
	if e.Time != 20 || e.MoofOffset != 0x200 {
		t.Errorf("entry = %+v", e)
	}
	if e.TrafNumber != 1 || e.TrunNumber != 1 || e.SampleNumber != 2 {
		t.Errorf("numbers = %d/%d/%d", e.TrafNumber, e.TrunNumber, e.SampleNumber)
	}
}

func TestTfraRoundTrip(t *testing.T) {
	in := TrackFragmentRandomAccessBox{
		Version: 1,
		TrackID: 3,
		Entries: []TfraEntry{
			{Time: 1 << 33, MoofOffset: 1 << 34, TrafNumber: 1, TrunNumber: 2, SampleNumber: 3},
		},
	}
	var out TrackFragmentRandomAccessBox
	if err := out.Unmarshal(content(t, in.Marshal())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.TrackID != 3 || len(out.Entries) != 1 || out.Entries[0] != in.Entries[0] {
		t.Errorf("got %+v", out)
	}
}

func TestTfhdConditionalFields(t *testing.T) {
	in := TrackFragmentHeaderBox{
		Flags:                 TfhdBaseDataOffsetPresent | TfhdDefaultSampleDurationPresent,
		TrackID:               2,
		BaseDataOffset:        1 << 40,
		DefaultSampleDuration: 1001,
	}
	var out TrackFragmentHeaderBox
	if err := out.Unmarshal(content(t, in.Marshal())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.TrackID != 2 || out.BaseDataOffset != 1<<40 || out.DefaultSampleDuration != 1001 {
		t.Errorf("got %+v", out)
	}
	if out.DefaultSampleSize != 0 {
		t.Error("absent field decoded nonzero")
	}
	// fields after a truncation point must fail
	short := content(t, in.Marshal())
	if err := out.Unmarshal(short[:10]); err != ErrBadBox {
		t.Errorf("truncated tfhd = %v, want ErrBadBox", err)
	}
}

func TestTrunPerSampleFields(t *testing.T) {
	in := TrackRunBox{
		Flags:      TrunDataOffsetPresent | TrunSampleDurationPresent | TrunSampleSizePresent,
		DataOffset: -16,
		Entries: []TrunEntry{
			{Duration: 100, Size: 10},
			{Duration: 200, Size: 20},
		},
	}
	var out TrackRunBox
	if err := out.Unmarshal(content(t, in.Marshal())); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.DataOffset != -16 {
		t.Errorf("data offset = %d, want -16", out.DataOffset)
	}
	if len(out.Entries) != 2 || out.Entries[1].Duration != 200 || out.Entries[1].Size != 20 {
		t.Errorf("entries = %+v", out.Entries)
	}
	if out.Entries[0].Flags != 0 || out.Entries[0].CompositionOffset != 0 {
		t.Error("absent per-sample fields decoded nonzero")
	}
}

func TestTrackHeaderStrictSize(t *testing.T) {
	var tkhd TrackHeaderBox
	if err := tkhd.Unmarshal(make([]byte, 83)); err != ErrBadBox {
		t.Errorf("83-byte v0 tkhd = %v, want ErrBadBox", err)
	}
	v1 := make([]byte, 96)
	v1[0] = 1
	v1[23] = 9 // track id
	if err := tkhd.Unmarshal(v1); err != nil {
		t.Fatalf("v1 tkhd: %v", err)
	}
	if tkhd.TrackID != 9 {
		t.Errorf("track id = %d, want 9", tkhd.TrackID)
	}
	if err := tkhd.Unmarshal(append(v1, 0)); err != ErrBadBox {
		t.Error("oversized v1 tkhd accepted")
	}
}

func TestEsdsRoundTrip(t *testing.T) {
	dsi := []byte{0x12, 0x10}
	raw := MakeEsds(1, 0x40, dsi)
	var esd ESDescriptorBox
	if err := esd.Unmarshal(content(t, raw)); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if esd.ObjectTypeIndication != 0x40 {
		t.Errorf("oti = %#x, want 0x40", esd.ObjectTypeIndication)
	}
	if !bytes.Equal(esd.DecoderSpecificInfo, dsi) {
		t.Errorf("dsi = %v, want %v", esd.DecoderSpecificInfo, dsi)
	}
}

func TestSampleEncryptionSubSamples(t *testing.T) {
	in := SampleEncryptionBox{
		Flags:       SencOverrideTrackEncryption | SencSubSampleEncryption,
		AlgorithmID: 1,
		IVSize:      8,
		KID:         [16]byte{1, 2, 3},
		Entries: []SencEntry{
			{
				IV: []byte{1, 2, 3, 4, 5, 6, 7, 8},
				SubSamples: []SubSampleEntry{
					{ClearBytes: 9, EncryptedBytes: 240},
				},
			},
		},
	}
	raw := in.Marshal()
	// skip box header and extended type
	var out SampleEncryptionBox
	if err := out.Unmarshal(raw[24:]); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.AlgorithmID != 1 || out.IVSize != 8 || out.KID != in.KID {
		t.Errorf("override fields = %+v", out)
	}
	if len(out.Entries) != 1 || !bytes.Equal(out.Entries[0].IV, in.Entries[0].IV) {
		t.Fatalf("entries = %+v", out.Entries)
	}
	ss := out.Entries[0].SubSamples
	if len(ss) != 1 || ss[0].ClearBytes != 9 || ss[0].EncryptedBytes != 240 {
		t.Errorf("subsamples = %+v", ss)
	}
}

func TestCompactSampleSizes(t *testing.T) {
	raw := []byte{
		0, 0, 0, 0,
		0, 0, 0, 4, // field size
		0, 0, 0, 3, // count
		0x5a, 0x30,
	}
	var stz2 SampleSizeBox
	if err := stz2.UnmarshalCompact(raw); err != nil {
		t.Fatalf("UnmarshalCompact: %v", err)
	}
	want := []uint32{5, 10, 3}
	for i, s := range want {
		if stz2.Sizes[i] != s {
			t.Errorf("size %d = %d, want %d", i, stz2.Sizes[i], s)
		}
	}
}
