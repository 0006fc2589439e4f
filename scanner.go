package bmff

import "strconv"

// MetadataSink receives the tags of one scanned file. AddStringTag may
// return false to stop the scan early.
type MetadataSink interface {
	SetMimeType(mime string)
	AddStringTag(key, value string) bool
}

// ScanFile extracts the container tags and pushes them into sink, the way
// a media library indexer consumes them. The extractor is read-metadata'd
// on demand.
func ScanFile(e *Extractor, sink MetadataSink) error {
	if err := e.ReadMetaData(); err != nil {
		return err
	}
	meta := e.FileMetaData()
	sink.SetMimeType(meta.MIMEType)

	var durationUs int64
	for _, t := range e.Tracks() {
		if t.DurationUs > durationUs {
			durationUs = t.DurationUs
		}
	}
	tags := []struct{ key, value string }{
		{"tracknumber", meta.TrackNumber},
		{"discnumber", meta.DiscNumber},
		{"album", meta.Album},
		{"artist", meta.Artist},
		{"albumartist", meta.AlbumArtist},
		{"composer", meta.Composer},
		{"genre", meta.Genre},
		{"title", meta.Title},
		{"year", meta.Year},
		{"duration", strconv.FormatInt(durationUs/1000, 10)},
		{"writer", meta.Writer},
	}
	for _, tag := range tags {
		if tag.value == "" {
			continue
		}
		if !sink.AddStringTag(tag.key, tag.value) {
			break
		}
	}
	return nil
}
