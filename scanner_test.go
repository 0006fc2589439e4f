package bmff

import (
	"testing"

	"m7s.live/bmff/pkg/box"
)

type tagSink struct {
	mime string
	tags map[string]string
	stop string // stop the scan after this key
}

func (s *tagSink) SetMimeType(mime string) { s.mime = mime }

func (s *tagSink) AddStringTag(key, value string) bool {
	if s.tags == nil {
		s.tags = make(map[string]string)
	}
	s.tags[key] = value
	return key != s.stop
}

func TestScanFile(t *testing.T) {
	udta := makeUdta(
		ilstString(box.TypeTitle, "Scan Me"),
		ilstString(box.TypeArtist, "The Scanners"),
	)
	e := NewExtractor(NewBytesSource(buildFlatAudio(flatAudioOptions{udta: udta})), nil)
	var sink tagSink
	if err := ScanFile(e, &sink); err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if sink.mime != MIMETypeAudioMPEG4 {
		t.Errorf("mime = %q, want %q", sink.mime, MIMETypeAudioMPEG4)
	}
	if sink.tags["title"] != "Scan Me" || sink.tags["artist"] != "The Scanners" {
		t.Errorf("tags = %v", sink.tags)
	}
	// 4 samples of 1000 ticks at timescale 1000
	if sink.tags["duration"] != "4000" {
		t.Errorf("duration = %q, want \"4000\"", sink.tags["duration"])
	}
	if _, ok := sink.tags["album"]; ok {
		t.Error("empty tag was reported")
	}
	if _, ok := sink.tags["date"]; ok {
		t.Error("creation date leaked into the scanner tags")
	}
}

func TestScanFileStopsEarly(t *testing.T) {
	udta := makeUdta(ilstString(box.TypeTitle, "Cut Short"))
	e := NewExtractor(NewBytesSource(buildFlatAudio(flatAudioOptions{udta: udta})), nil)
	sink := tagSink{stop: "title"}
	if err := ScanFile(e, &sink); err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if len(sink.tags) != 1 {
		t.Errorf("tags after early stop = %v", sink.tags)
	}
	if sink.tags["title"] != "Cut Short" {
		t.Errorf("title = %q", sink.tags["title"])
	}
}
