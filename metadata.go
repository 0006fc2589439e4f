package bmff

import (
	"time"

	"github.com/google/uuid"
)

// PSSHeader is one protection system specific header from a PIFF pssh box.
type PSSHeader struct {
	SystemID uuid.UUID
	Data     []byte
}

// FileMetaData aggregates the container level tags from moov/udta/meta/ilst
// plus the creation date and any protection headers.
type FileMetaData struct {
	MIMEType    string
	Title       string
	Album       string
	Artist      string
	AlbumArtist string
	Composer    string
	Writer      string
	Year        string
	Genre       string
	TrackNumber string
	DiscNumber  string
	Date        string
	AlbumArt    []byte
	PSSH        []PSSHeader
}

// Seconds between 1904-01-01 (container epoch) and 1970-01-01.
const epochOffset1904 = ((66*365 + 17) * 24) * 3600

// formatCreationDate renders a creation time from the container epoch in
// the fixed layout scanners expect.
func formatCreationDate(time1904 uint64) string {
	time1970 := int64(time1904) - epochOffset1904
	return time.Unix(time1970, 0).UTC().Format("20060102T150405.000Z")
}
