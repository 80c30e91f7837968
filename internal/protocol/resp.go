// Package protocol implements the RESP-like wire codec used by microkv:
// a tag byte followed by CRLF-terminated headers and payloads.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

var (
	// ErrInvalidProtocol indicates malformed framing: a missing CRLF,
	// a non-numeric length or integer, or an oversized payload.
	ErrInvalidProtocol = errors.New("protocol: invalid format")
	// ErrBadRequest indicates an unknown tag byte at the start of a value.
	// The connection survives it; the message is sent back as an error reply.
	ErrBadRequest = errors.New("bad request")
	// ErrUnrecognizedType indicates an attempt to encode a value shape the
	// protocol has no tag for.
	ErrUnrecognizedType = errors.New("unrecognized type")
	// ErrDisconnect reports a clean EOF before the first byte of a value.
	ErrDisconnect = errors.New("protocol: client disconnected")
	// ErrTruncated reports EOF in the middle of a value.
	ErrTruncated = errors.New("protocol: truncated message")
)

// Tag constants, one per representable value shape.
const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
	TypeMap          = '%'
)

const (
	maxBulkStringLength = 512 * 1024 * 1024 // 512 MiB
	maxArrayLength      = 1_000_000
	defaultBufSize      = 64 * 1024 // 64 KiB read/write buffers
)

// Shared byte slices to avoid allocations on every write.
var (
	crlfBytes = []byte("\r\n")
	nullBytes = []byte("$-1\r\n")
)

// intBufPool provides scratch buffers for integer formatting.
var intBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 20) // max int64 is 19 digits + sign
		return &b
	},
}

// MapEntry is one key/value pair of a map value. Pairs keep their decode
// order so encoding is deterministic and keys need not be comparable.
type MapEntry struct {
	Key   Value
	Value Value
}

// Value is the tagged union crossing the wire in either direction.
type Value struct {
	Type  byte
	Str   string
	Num   int64
	Array []Value
	Map   []MapEntry
	Null  bool
}

// SimpleString returns a '+' value.
func SimpleString(s string) Value { return Value{Type: TypeSimpleString, Str: s} }

// ErrorValue returns a '-' value carrying msg.
func ErrorValue(msg string) Value { return Value{Type: TypeError, Str: msg} }

// Integer returns a ':' value.
func Integer(n int64) Value { return Value{Type: TypeInteger, Num: n} }

// BulkString returns a '$' value holding b verbatim.
func BulkString(b []byte) Value { return Value{Type: TypeBulkString, Str: string(b)} }

// Null returns the null bulk string.
func Null() Value { return Value{Type: TypeBulkString, Null: true} }

// ArrayValue returns a '*' value over elems.
func ArrayValue(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TypeArray, Array: elems}
}

// MapValue returns a '%' value over entries.
func MapValue(entries ...MapEntry) Value {
	if entries == nil {
		entries = []MapEntry{}
	}
	return Value{Type: TypeMap, Map: entries}
}

// Equal reports whether two values carry the same semantic content.
func (v Value) Equal(other Value) bool {
	if v.Null || other.Null {
		return v.Null == other.Null
	}
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeSimpleString, TypeError, TypeBulkString:
		return v.Str == other.Str
	case TypeInteger:
		return v.Num == other.Num
	case TypeArray:
		if len(v.Array) != len(other.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(other.Array[i]) {
				return false
			}
		}
		return true
	case TypeMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for i := range v.Map {
			if !v.Map[i].Key.Equal(other.Map[i].Key) || !v.Map[i].Value.Equal(other.Map[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Reader decodes values from a stream.
type Reader struct {
	rd *bufio.Reader
}

// NewReader creates a Reader with an optimised buffer.
func NewReader(r io.Reader) *Reader {
	return &Reader{rd: bufio.NewReaderSize(r, defaultBufSize)}
}

// Buffered returns the number of bytes already read from the connection
// and waiting to be decoded. A non-zero result means more pipelined
// requests are pending.
func (r *Reader) Buffered() int {
	return r.rd.Buffered()
}

// ReadValue reads exactly one complete value starting at the next tag byte.
// A clean EOF before the tag byte returns ErrDisconnect; EOF anywhere later
// in the value returns ErrTruncated.
func (r *Reader) ReadValue() (Value, error) {
	return r.readValue(true)
}

func (r *Reader) readValue(top bool) (Value, error) {
	tag, err := r.rd.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			if top {
				return Value{}, ErrDisconnect
			}
			return Value{}, ErrTruncated
		}
		return Value{}, err
	}

	switch tag {
	case TypeSimpleString:
		return r.readSimpleString()
	case TypeError:
		return r.readError()
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readArray()
	case TypeMap:
		return r.readMap()
	default:
		// Resynchronize at the next line boundary so one garbage line
		// costs one error reply, not one per byte.
		r.rd.ReadString('\n')
		return Value{}, fmt.Errorf("%w: unexpected tag %q", ErrBadRequest, tag)
	}
}

// readLine reads a line up to \r\n and strips the terminator.
func (r *Reader) readLine() (string, error) {
	line, err := r.rd.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrTruncated
		}
		return "", err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", ErrInvalidProtocol
	}
	return line[:len(line)-2], nil
}

// readLength reads a line and parses it as a signed decimal length.
func (r *Reader) readLength(what string) (int64, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s length", ErrInvalidProtocol, what)
	}
	return n, nil
}

func (r *Reader) readSimpleString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	return Value{Type: TypeSimpleString, Str: line}, nil
}

func (r *Reader) readError() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	return Value{Type: TypeError, Str: line}, nil
}

func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	num, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid integer", ErrInvalidProtocol)
	}
	return Value{Type: TypeInteger, Num: num}, nil
}

func (r *Reader) readBulkString() (Value, error) {
	length, err := r.readLength("bulk string")
	if err != nil {
		return Value{}, err
	}

	// Null bulk string
	if length == -1 {
		return Value{Type: TypeBulkString, Null: true}, nil
	}

	if length < 0 {
		return Value{}, fmt.Errorf("%w: negative bulk string length", ErrInvalidProtocol)
	}
	if length > maxBulkStringLength {
		return Value{}, fmt.Errorf("%w: bulk string too large", ErrInvalidProtocol)
	}

	// Read the data + \r\n
	data := make([]byte, length+2)
	if _, err := io.ReadFull(r.rd, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Value{}, ErrTruncated
		}
		return Value{}, err
	}

	if data[length] != '\r' || data[length+1] != '\n' {
		return Value{}, ErrInvalidProtocol
	}

	return Value{Type: TypeBulkString, Str: string(data[:length])}, nil
}

func (r *Reader) readArray() (Value, error) {
	count, err := r.readLength("array")
	if err != nil {
		return Value{}, err
	}

	// Null array
	if count == -1 {
		return Value{Type: TypeArray, Null: true}, nil
	}

	if count < 0 {
		return Value{}, fmt.Errorf("%w: negative array length", ErrInvalidProtocol)
	}
	if count > maxArrayLength {
		return Value{}, fmt.Errorf("%w: array too large", ErrInvalidProtocol)
	}

	array := make([]Value, count)
	for i := int64(0); i < count; i++ {
		val, err := r.readValue(false)
		if err != nil {
			return Value{}, err
		}
		array[i] = val
	}

	return Value{Type: TypeArray, Array: array}, nil
}

func (r *Reader) readMap() (Value, error) {
	count, err := r.readLength("map")
	if err != nil {
		return Value{}, err
	}

	if count < 0 {
		return Value{}, fmt.Errorf("%w: negative map length", ErrInvalidProtocol)
	}
	if count > maxArrayLength {
		return Value{}, fmt.Errorf("%w: map too large", ErrInvalidProtocol)
	}

	entries := make([]MapEntry, 0, count)
	for i := int64(0); i < count; i++ {
		key, err := r.readValue(false)
		if err != nil {
			return Value{}, err
		}
		val, err := r.readValue(false)
		if err != nil {
			return Value{}, err
		}
		// Duplicate keys keep their first position; the last value wins.
		replaced := false
		for j := range entries {
			if entries[j].Key.Equal(key) {
				entries[j].Value = val
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, MapEntry{Key: key, Value: val})
		}
	}

	return Value{Type: TypeMap, Map: entries}, nil
}

// Writer encodes values onto a stream.
// By default every Write* call flushes immediately (autoFlush=true).
// Call SetAutoFlush(false) before a batch, then Flush() once at the end,
// to amortise syscalls across many responses.
type Writer struct {
	wr        *bufio.Writer
	autoFlush bool
}

// NewWriter creates a Writer with an optimised buffer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{wr: bufio.NewWriterSize(w, defaultBufSize), autoFlush: true}
}

// SetAutoFlush controls whether each Write* call flushes automatically.
func (w *Writer) SetAutoFlush(on bool) { w.autoFlush = on }

// Flush writes any buffered data to the underlying io.Writer.
func (w *Writer) Flush() error { return w.wr.Flush() }

func (w *Writer) flush() error {
	if w.autoFlush {
		return w.wr.Flush()
	}
	return nil
}

// writeTypedInt writes the integer n with a preceding tag byte using
// strconv.AppendInt instead of fmt.Fprintf.
func (w *Writer) writeTypedInt(prefix byte, n int64) error {
	if err := w.wr.WriteByte(prefix); err != nil {
		return err
	}
	bp := intBufPool.Get().(*[]byte)
	b := strconv.AppendInt((*bp)[:0], n, 10)
	_, err := w.wr.Write(b)
	*bp = b
	intBufPool.Put(bp)
	if err != nil {
		return err
	}
	_, err = w.wr.Write(crlfBytes)
	return err
}

// sanitizeLine replaces CR and LF so a line-framed payload can never
// corrupt the stream.
func sanitizeLine(s string) string {
	out := []byte(s)
	dirty := false
	for i, c := range out {
		if c == '\r' || c == '\n' {
			out[i] = ' '
			dirty = true
		}
	}
	if !dirty {
		return s
	}
	return string(out)
}

func (w *Writer) writeLine(prefix byte, s string) error {
	if err := w.wr.WriteByte(prefix); err != nil {
		return err
	}
	if _, err := w.wr.WriteString(sanitizeLine(s)); err != nil {
		return err
	}
	_, err := w.wr.Write(crlfBytes)
	return err
}

// WriteValue serializes v, resolving the encoding by its tag. Encoding a
// value with an unknown tag fails with ErrUnrecognizedType.
func (w *Writer) WriteValue(v Value) error {
	if err := w.writeValue(v); err != nil {
		return err
	}
	return w.flush()
}

func (w *Writer) writeValue(v Value) error {
	if v.Null {
		_, err := w.wr.Write(nullBytes)
		return err
	}

	switch v.Type {
	case TypeSimpleString:
		return w.writeLine('+', v.Str)
	case TypeError:
		return w.writeLine('-', v.Str)
	case TypeInteger:
		return w.writeTypedInt(':', v.Num)
	case TypeBulkString:
		if err := w.writeTypedInt('$', int64(len(v.Str))); err != nil {
			return err
		}
		if _, err := w.wr.WriteString(v.Str); err != nil {
			return err
		}
		_, err := w.wr.Write(crlfBytes)
		return err
	case TypeArray:
		if err := w.writeTypedInt('*', int64(len(v.Array))); err != nil {
			return err
		}
		for _, item := range v.Array {
			if err := w.writeValue(item); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		if err := w.writeTypedInt('%', int64(len(v.Map))); err != nil {
			return err
		}
		for _, entry := range v.Map {
			if err := w.writeValue(entry.Key); err != nil {
				return err
			}
			if err := w.writeValue(entry.Value); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnrecognizedType, v.Type)
	}
}

// WriteSimpleString writes a simple string reply.
func (w *Writer) WriteSimpleString(s string) error {
	if err := w.writeLine('+', s); err != nil {
		return err
	}
	return w.flush()
}

// WriteError writes an error reply carrying msg verbatim (CRLF sanitized).
func (w *Writer) WriteError(msg string) error {
	if err := w.writeLine('-', msg); err != nil {
		return err
	}
	return w.flush()
}

// WriteInteger writes an integer reply.
func (w *Writer) WriteInteger(n int64) error {
	if err := w.writeTypedInt(':', n); err != nil {
		return err
	}
	return w.flush()
}

// WriteBulkString writes a bulk string reply.
func (w *Writer) WriteBulkString(b []byte) error {
	if err := w.writeTypedInt('$', int64(len(b))); err != nil {
		return err
	}
	if _, err := w.wr.Write(b); err != nil {
		return err
	}
	if _, err := w.wr.Write(crlfBytes); err != nil {
		return err
	}
	return w.flush()
}

// WriteNull writes the null bulk string reply.
func (w *Writer) WriteNull() error {
	if _, err := w.wr.Write(nullBytes); err != nil {
		return err
	}
	return w.flush()
}

// WriteArray writes an array of bulk strings.
func (w *Writer) WriteArray(items [][]byte) error {
	if err := w.writeTypedInt('*', int64(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := w.writeTypedInt('$', int64(len(item))); err != nil {
			return err
		}
		if _, err := w.wr.Write(item); err != nil {
			return err
		}
		if _, err := w.wr.Write(crlfBytes); err != nil {
			return err
		}
	}
	return w.flush()
}
