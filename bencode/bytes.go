package bencode

// Bytes carries an already-bencoded value verbatim, such as an info
// dictionary whose exact bytes must be preserved for hashing. Decoding into
// a Bytes copies the raw encoded form instead of recursively parsing it;
// encoding a Bytes writes it back out unchanged.
type Bytes []byte

var (
	_ Unmarshaler = &Bytes{}
	_ Marshaler   = Bytes{}
)

// UnmarshalBencode copies the raw encoded bytes of the value verbatim.
func (b *Bytes) UnmarshalBencode(data []byte) error {
	*b = append([]byte(nil), data...)
	return nil
}

// MarshalBencode returns b's bytes unchanged.
func (b Bytes) MarshalBencode() ([]byte, error) {
	return b, nil
}
