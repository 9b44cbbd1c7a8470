package fortune

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

// Marker identifies the kind of the single request carried by a connection.
type Marker uint32

// Known request markers.
const (
	// ReadFortune asks the server for every stored fortune. It carries no payload.
	ReadFortune Marker = 0
	// WriteFortune submits a fortune. It is followed by one string payload.
	WriteFortune Marker = 1
)

func (m Marker) String() string {
	switch m {
	case ReadFortune:
		return "ReadFortune"
	case WriteFortune:
		return "WriteFortune"
	default:
		return fmt.Sprintf("Marker(%d)", uint32(m))
	}
}

// Known reports whether m is one of the markers the protocol defines.
func (m Marker) Known() bool {
	return m == ReadFortune || m == WriteFortune
}

// Wire layout sizes, in bytes.
const (
	markerSize   = 4
	lengthSize   = 4
	codeUnitSize = 2

	// nullLength is the length QDataStream writes for a null QString.
	nullLength = math.MaxUint32
)

// Errors returned by the decoder.
var (
	// ErrIncomplete means the buffer does not yet hold a complete value.
	// It is not a failure: the caller should wait for more bytes and retry.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrUnknownMarker is returned when a decoded marker matches no request kind.
	ErrUnknownMarker = errors.New("unknown marker")
	// ErrMessageTooLarge is returned when a string payload declares more code
	// units than the decoder accepts.
	ErrMessageTooLarge = errors.New("message too large")
)

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// EncodeMarker returns the 4-byte big-endian encoding of m.
func EncodeMarker(m Marker) []byte {
	return appendMarker(make([]byte, 0, markerSize), m)
}

// EncodeString returns s as a string payload: a 4-byte big-endian count of
// UTF-16 code units followed by the code units.
// Invalid UTF-8 sequences in s are sent as U+FFFD.
func EncodeString(s string) []byte {
	return appendString(nil, s)
}

func appendMarker(dst []byte, m Marker) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(m))
}

func appendString(dst []byte, s string) []byte {
	// The input is valid UTF-8 once sanitized, so the encoder cannot fail.
	units, _ := utf16BE.NewEncoder().Bytes([]byte(strings.ToValidUTF8(s, "\uFFFD")))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(units)/codeUnitSize))
	return append(dst, units...)
}

// Request is the one frame a client sends on a connection.
type Request struct {
	Marker Marker
	// Text is the submitted fortune. Only WriteFortune carries it.
	Text string
}

// ReadRequest returns the request asking for all fortunes.
func ReadRequest() Request {
	return Request{Marker: ReadFortune}
}

// WriteRequest returns the request submitting text.
func WriteRequest(text string) Request {
	return Request{Marker: WriteFortune, Text: text}
}

// Encode serializes the request into its wire form.
func (r Request) Encode() []byte {
	return r.AppendTo(nil)
}

// AppendTo appends the wire form of r to dst.
func (r Request) AppendTo(dst []byte) []byte {
	dst = appendMarker(dst, r.Marker)
	if r.Marker == WriteFortune {
		dst = appendString(dst, r.Text)
	}
	return dst
}

// TryDecodeMarker decodes a marker from buf at cursor.
// On success it returns the marker and the cursor just past it.
// If fewer than 4 bytes are available it returns ErrIncomplete and cursor unchanged.
func TryDecodeMarker(buf []byte, cursor int) (Marker, int, error) {
	if len(buf)-cursor < markerSize {
		return 0, cursor, ErrIncomplete
	}
	return Marker(binary.BigEndian.Uint32(buf[cursor:])), cursor + markerSize, nil
}

// TryDecodeString decodes a string payload from buf at cursor.
// Both the length field and every code unit must be present; otherwise it
// returns ErrIncomplete and cursor unchanged, even if the length was readable.
func TryDecodeString(buf []byte, cursor int) (string, int, error) {
	return tryDecodeString(buf, cursor, 0)
}

// tryDecodeString is TryDecodeString with an upper bound on the declared
// length in code units. A limit of 0 disables the check.
func tryDecodeString(buf []byte, cursor int, limit int) (string, int, error) {
	avail := len(buf) - cursor
	if avail < lengthSize {
		return "", cursor, ErrIncomplete
	}
	n := binary.BigEndian.Uint32(buf[cursor:])
	if n == nullLength {
		return "", cursor + lengthSize, nil
	}
	if limit > 0 && uint64(n) > uint64(limit) {
		return "", cursor, ErrMessageTooLarge
	}
	size := uint64(n) * codeUnitSize
	if uint64(avail-lengthSize) < size {
		return "", cursor, ErrIncomplete
	}

	start := cursor + lengthSize
	end := start + int(size)
	text, err := utf16BE.NewDecoder().Bytes(buf[start:end])
	if err != nil {
		return "", cursor, errors.Wrap(err, "decode utf-16 payload failed")
	}
	return string(text), end, nil
}

// Decoder accumulates bytes received on one connection and decodes values
// from them transactionally: a decode attempt that lacks data leaves the
// decoder exactly as it was.
type Decoder struct {
	buf    []byte
	cursor int
	limit  int
}

// NewDecoder returns an empty decoder. maxStringLength bounds the code unit
// count of decoded strings; 0 means no bound.
func NewDecoder(maxStringLength int) *Decoder {
	return &Decoder{limit: maxStringLength}
}

// Feed appends newly received bytes. Bytes already consumed are discarded.
func (d *Decoder) Feed(p []byte) {
	if d.cursor > 0 {
		n := copy(d.buf, d.buf[d.cursor:])
		d.buf = d.buf[:n]
		d.cursor = 0
	}
	d.buf = append(d.buf, p...)
}

// Marker decodes the next marker. See TryDecodeMarker.
func (d *Decoder) Marker() (Marker, error) {
	m, next, err := TryDecodeMarker(d.buf, d.cursor)
	if err != nil {
		return 0, err
	}
	d.cursor = next
	return m, nil
}

// Text decodes the next string payload. See TryDecodeString.
func (d *Decoder) Text() (string, error) {
	s, next, err := tryDecodeString(d.buf, d.cursor, d.limit)
	if err != nil {
		return "", err
	}
	d.cursor = next
	return s, nil
}

// Buffered returns the number of received bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.cursor
}
