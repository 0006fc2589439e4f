// Package bmff demuxes ISO base media files (MP4, 3GP, PIFF). It reads the
// flat sample tables of a regular movie as well as the moof/traf structure
// of fragmented movies, where the mfra/tfra index enables random access
// without scanning the whole file.
package bmff

// Container level MIME types.
const (
	MIMETypeMPEG4      = "video/mp4"
	MIMETypeAudioMPEG4 = "audio/mp4"
)

// Track level MIME types.
const (
	MIMETypeAVC        = "video/avc"
	MIMETypeMPEG4Video = "video/mp4v-es"
	MIMETypeH263       = "video/3gpp"
	MIMETypeAAC        = "audio/mp4a-latm"
	MIMETypeAMRNB      = "audio/3gpp"
	MIMETypeAMRWB      = "audio/amr-wb"
	MIMETypeQCELP      = "audio/qcelp"
)
