package util

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// ReadBE reads big-endian bytes into a T. The byte count is len(b), so
// 24-bit fields can be read with a 3-byte slice.
func ReadBE[T Integer](b []byte) (n T) {
	for _, c := range b {
		n = n<<8 | T(c)
	}
	return
}

// PutBE writes the low len(b) bytes of n into b big-endian and returns b.
func PutBE[T Integer](b []byte, n T) []byte {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}

// GetBE appends the low size bytes of n to buf big-endian.
func GetBE[T Integer](buf []byte, n T, size int) []byte {
	for i := size - 1; i >= 0; i-- {
		buf = append(buf, byte(n>>(8*i)))
	}
	return buf
}
