package bmff

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks structural damage in the container. Parsing of
	// the surrounding scope stops.
	ErrMalformed = errors.New("malformed container")
	// ErrUnsupported marks valid but unhandled constructs.
	ErrUnsupported = errors.New("unsupported construct")
	// ErrOutOfRange is returned for seeks outside the indexed range.
	ErrOutOfRange = errors.New("time out of range")
	// ErrNotYetParsed is the errors.Is target of NotParsedError.
	ErrNotYetParsed = errors.New("fragment not yet parsed")
)

// NotParsedError reports that the wanted sample lives in a movie fragment
// whose moof has not been decoded yet. MoofOffset is the file position
// where parsing has to resume and NextTimestamp seeds the decode-time
// accumulator of that fragment.
type NotParsedError struct {
	MoofOffset    int64
	NextTimestamp uint64
}

func (e *NotParsedError) Error() string {
	return fmt.Sprintf("moof at offset %d not yet parsed", e.MoofOffset)
}

func (e *NotParsedError) Is(target error) bool {
	return target == ErrNotYetParsed
}
