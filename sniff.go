package bmff

// brands that identify a file we can demux
var compatibleBrands = []string{
	"3gp", "mp42", "3gr6", "3gs6", "3ge6", "3gg6",
	"isom", "M4V ", "M4A ", "f4v ", "kddi", "M4VP",
	"mmp4", "isml",
}

// Sniff checks whether src starts with an ftyp box carrying a known
// brand. The returned confidence lets a caller arbitrate between
// competing format probes.
func Sniff(src DataSource) (mime string, confidence float32, ok bool) {
	var hdr [12]byte
	if err := readFullAt(src, hdr[:], 0); err != nil {
		return "", 0, false
	}
	if string(hdr[4:8]) != "ftyp" {
		return "", 0, false
	}
	brand := string(hdr[8:12])
	for _, b := range compatibleBrands {
		if brand == b || (len(b) == 3 && brand[:3] == b) {
			return MIMETypeMPEG4, 0.4, true
		}
	}
	return "", 0, false
}
