package bencode

import (
	"io"
	"reflect"
	"runtime"
	"sort"
	"strconv"
)

// Encoder writes canonical bencode: dict keys sorted lexicographically,
// integers in minimal decimal form, byte strings length-prefixed.
//
// meta never hands the encoder a Go struct: an info dictionary is built as
// a map[string]interface{} tree (see meta.TorrentContainer.infoDict and
// friends) so that its shape can vary between v1, v2, and hybrid torrents
// without a fixed schema. Encode is written around that boundary: dicts,
// lists, strings, ints, and core.Hash20/Hash32 via Marshaler.
type Encoder struct {
	w interface {
		Flush() error
		io.Writer
		WriteString(string) (int, error)
	}
	scratch [64]byte
}

// Encode writes the canonical bencoding of v.
func (e *Encoder) Encode(v interface{}) (err error) {
	if v == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			var ok bool
			err, ok = r.(error)
			if !ok {
				panic(r)
			}
		}
	}()
	e.reflectValue(reflect.ValueOf(v))
	return e.w.Flush()
}

type stringValues []reflect.Value

func (sv stringValues) Len() int           { return len(sv) }
func (sv stringValues) Swap(i, j int)      { sv[i], sv[j] = sv[j], sv[i] }
func (sv stringValues) Less(i, j int) bool { return sv.get(i) < sv.get(j) }
func (sv stringValues) get(i int) string   { return sv[i].String() }

func (e *Encoder) write(s []byte) {
	if _, err := e.w.Write(s); err != nil {
		panic(err)
	}
}

func (e *Encoder) writeString(s string) {
	if _, err := e.w.WriteString(s); err != nil {
		panic(err)
	}
}

func (e *Encoder) reflectString(s string) {
	b := strconv.AppendInt(e.scratch[:0], int64(len(s)), 10)
	e.write(b)
	e.writeString(":")
	e.writeString(s)
}

func (e *Encoder) reflectByteSlice(s []byte) {
	b := strconv.AppendInt(e.scratch[:0], int64(len(s)), 10)
	e.write(b)
	e.writeString(":")
	e.write(s)
}

// reflectMarshaler returns true if v implements Marshaler and was encoded
// through it. Every Marshaler in this module (core.Hash20, core.Hash32,
// Bytes) uses a value receiver, so unlike a general-purpose codec this
// never needs to take v's address to find the method.
func (e *Encoder) reflectMarshaler(v reflect.Value) bool {
	m, ok := v.Interface().(Marshaler)
	if !ok {
		return false
	}
	data, err := m.MarshalBencode()
	if err != nil {
		panic(&MarshalerError{v.Type(), err})
	}
	e.write(data)
	return true
}

// reflectValue encodes the dict/list/scalar tree meta builds for a torrent
// metadata dictionary: map[string]interface{}, []interface{}, string,
// signed integers, and []byte, plus any Marshaler value nested within.
func (e *Encoder) reflectValue(v reflect.Value) {
	if e.reflectMarshaler(v) {
		return
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b := strconv.AppendInt(e.scratch[:0], v.Int(), 10)
		e.writeString("i")
		e.write(b)
		e.writeString("e")
	case reflect.String:
		e.reflectString(v.String())
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			panic(&MarshalTypeError{v.Type()})
		}
		if v.IsNil() {
			e.writeString("de")
			break
		}
		e.writeString("d")
		sv := stringValues(v.MapKeys())
		sort.Sort(sv)
		for _, key := range sv {
			e.reflectString(key.String())
			e.reflectValue(v.MapIndex(key))
		}
		e.writeString("e")
	case reflect.Slice:
		if v.IsNil() {
			e.writeString("le")
			break
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			e.reflectByteSlice(v.Bytes())
			break
		}
		e.writeString("l")
		for i, n := 0, v.Len(); i < n; i++ {
			e.reflectValue(v.Index(i))
		}
		e.writeString("e")
	case reflect.Interface:
		e.reflectValue(v.Elem())
	default:
		panic(&MarshalTypeError{v.Type()})
	}
}
