// Package bencode implements a canonical bencoding codec: the serialization
// format BitTorrent metadata is expressed in. Canonical here means the
// encoder always sorts dictionary keys lexicographically and always emits
// integers in minimal decimal form, so that re-encoding a decoded info
// dictionary reproduces byte-identical output — a requirement for info-hash
// stability (spec §4.7, §8 "Info-hash stability").
//
// meta builds and walks torrent metadata as map[string]interface{}/[]interface{}
// trees rather than fixed structs, since a v1, v2, or hybrid info dictionary
// doesn't share one shape. Marshal follows that: it encodes dicts, lists,
// strings, and signed integers, plus any type implementing Marshaler
// (core.Hash20, core.Hash32, Bytes). Unmarshal additionally knows how to
// populate the one flat, explicitly-tagged struct the module decodes into
// (wireTorrent in package meta) alongside the same untyped tree form.
package bencode

import (
	"bufio"
	"bytes"
	"io"
	"reflect"
	"strconv"
)

// MarshalTypeError is returned when a value cannot be represented in
// bencode, such as a float.
type MarshalTypeError struct {
	Type reflect.Type
}

func (e *MarshalTypeError) Error() string {
	return "bencode: unsupported type: " + e.Type.String()
}

// UnmarshalInvalidArgError is returned when Unmarshal is given a non-pointer
// or nil destination.
type UnmarshalInvalidArgError struct {
	Type reflect.Type
}

func (e *UnmarshalInvalidArgError) Error() string {
	if e.Type == nil {
		return "bencode: Unmarshal(nil)"
	}
	if e.Type.Kind() != reflect.Ptr {
		return "bencode: Unmarshal(non-pointer " + e.Type.String() + ")"
	}
	return "bencode: Unmarshal(nil " + e.Type.String() + ")"
}

// UnmarshalTypeError is returned when a decoded value cannot be assigned to
// the destination Go type.
type UnmarshalTypeError struct {
	Value string
	Type  reflect.Type
}

func (e *UnmarshalTypeError) Error() string {
	return "bencode: value (" + e.Value + ") is not appropriate for type: " +
		e.Type.String()
}

// UnmarshalFieldError is returned when a dict key maps to an unexported
// struct field.
type UnmarshalFieldError struct {
	Key   string
	Type  reflect.Type
	Field reflect.StructField
}

func (e *UnmarshalFieldError) Error() string {
	return "bencode: key \"" + e.Key + "\" led to an unexported field \"" +
		e.Field.Name + "\" in type: " + e.Type.String()
}

// SyntaxError reports malformed bencode input, with the byte offset it was
// detected at.
type SyntaxError struct {
	Offset int64
	What   error
}

func (e *SyntaxError) Error() string {
	return "bencode: syntax error (offset: " + strconv.FormatInt(e.Offset, 10) + "): " + e.What.Error()
}

// MarshalerError wraps a non-nil error returned by a Marshaler.
type MarshalerError struct {
	Type reflect.Type
	Err  error
}

func (e *MarshalerError) Error() string {
	return "bencode: error calling MarshalBencode for type " + e.Type.String() + ": " + e.Err.Error()
}

// UnmarshalerError wraps a non-nil error returned by an Unmarshaler.
type UnmarshalerError struct {
	Type reflect.Type
	Err  error
}

func (e *UnmarshalerError) Error() string {
	return "bencode: error calling UnmarshalBencode for type " + e.Type.String() + ": " + e.Err.Error()
}

// Marshaler is implemented by types that encode themselves to bencode.
type Marshaler interface {
	MarshalBencode() ([]byte, error)
}

// Unmarshaler is implemented by types that decode themselves from bencode.
type Unmarshaler interface {
	UnmarshalBencode([]byte) error
}

// Marshal returns the canonical bencoding of v.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	e := Encoder{w: bufio.NewWriter(&buf)}
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses bencoded data into v, which must be a non-nil pointer.
func Unmarshal(data []byte, v interface{}) error {
	d := Decoder{r: bytes.NewBuffer(data)}
	return d.Decode(v)
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}
