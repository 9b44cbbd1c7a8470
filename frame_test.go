package fortune

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeMarker(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 0}, EncodeMarker(ReadFortune))
	require.Equal(t, []byte{0, 0, 0, 1}, EncodeMarker(WriteFortune))
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, EncodeMarker(Marker(0x01020304)))
}

func TestEncodeString(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 2, 0x00, 'h', 0x00, 'i'}, EncodeString("hi"))
	require.Equal(t, []byte{0, 0, 0, 0}, EncodeString(""))

	// U+1F600 is a surrogate pair: two code units.
	require.Equal(t, []byte{0, 0, 0, 2, 0xD8, 0x3D, 0xDE, 0x00}, EncodeString("\U0001F600"))
}

func TestRequestEncode(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 0}, ReadRequest().Encode())
	require.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 1, 0x00, 'C'}, WriteRequest("C").Encode())

	// A read request never carries text, even if one is set.
	require.Equal(t, []byte{0, 0, 0, 0}, Request{Marker: ReadFortune, Text: "ignored"}.Encode())
}

func TestMarkerString(t *testing.T) {
	require.Equal(t, "ReadFortune", ReadFortune.String())
	require.Equal(t, "WriteFortune", WriteFortune.String())
	require.Equal(t, "Marker(7)", Marker(7).String())
	require.True(t, WriteFortune.Known())
	require.False(t, Marker(2).Known())
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"A",
		"You've been leading a dog's life. Stay off the furniture.\n",
		"line one\nline two\n",
		"Grüße, 世界",
		"\U0001F600 surrogate \U0001F4A9 pairs",
	} {
		buf := EncodeString(s)
		got, next, err := TryDecodeString(buf, 0)
		require.NoError(t, err, "%q", s)
		require.Equal(t, s, got)
		require.Equal(t, len(buf), next)
	}
}

func TestEncodeString_InvalidUTF8(t *testing.T) {
	got, _, err := TryDecodeString(EncodeString("a\xffb"), 0)
	require.NoError(t, err)
	require.Equal(t, "a\uFFFDb", got)
}

func TestTryDecodeMarker_Incomplete(t *testing.T) {
	buf := []byte{0xAA, 0, 0, 0}
	for cursor := 1; cursor <= len(buf); cursor++ {
		_, next, err := TryDecodeMarker(buf, cursor)
		require.ErrorIs(t, err, ErrIncomplete)
		require.Equal(t, cursor, next)
	}

	m, next, err := TryDecodeMarker(append(buf, 1), 1)
	require.NoError(t, err)
	require.Equal(t, WriteFortune, m)
	require.Equal(t, 5, next)
}

func TestTryDecodeString_IncompleteLeavesCursor(t *testing.T) {
	prefix := []byte{9, 9, 9}
	payload := EncodeString("fortune")
	full := append(append([]byte{}, prefix...), payload...)

	// Every truncation fails, including those where the length field is whole.
	for end := len(prefix); end < len(full); end++ {
		got, next, err := TryDecodeString(full[:end], len(prefix))
		require.ErrorIs(t, err, ErrIncomplete, "end=%d", end)
		require.Equal(t, len(prefix), next)
		require.Empty(t, got)
	}

	got, next, err := TryDecodeString(full, len(prefix))
	require.NoError(t, err)
	require.Equal(t, "fortune", got)
	require.Equal(t, len(full), next)
}

func TestTryDecodeString_NullLength(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, 0xFFFFFFFF)
	got, next, err := TryDecodeString(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "", got)
	require.Equal(t, 4, next)
}

func TestTryDecodeString_HugeLengthIsIncomplete(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, 0xFFFFFFFE)
	_, next, err := TryDecodeString(append(buf, 0, 'x'), 0)
	require.ErrorIs(t, err, ErrIncomplete)
	require.Equal(t, 0, next)
}

func TestDecoder_Limit(t *testing.T) {
	d := NewDecoder(3)
	d.Feed(EncodeString("four"))
	_, err := d.Text()
	require.ErrorIs(t, err, ErrMessageTooLarge)
	require.Equal(t, 4+8, d.Buffered())

	d = NewDecoder(4)
	d.Feed(EncodeString("four"))
	got, err := d.Text()
	require.NoError(t, err)
	require.Equal(t, "four", got)
	require.Zero(t, d.Buffered())
}

func TestDecoder_FeedKeepsUnconsumedBytes(t *testing.T) {
	d := NewDecoder(0)
	d.Feed(WriteRequest("first").Encode())
	d.Feed(EncodeString("second")[:3])

	m, err := d.Marker()
	require.NoError(t, err)
	require.Equal(t, WriteFortune, m)

	s, err := d.Text()
	require.NoError(t, err)
	require.Equal(t, "first", s)

	_, err = d.Text()
	require.ErrorIs(t, err, ErrIncomplete)
	require.Equal(t, 3, d.Buffered())

	d.Feed(EncodeString("second")[3:])
	s, err = d.Text()
	require.NoError(t, err)
	require.Equal(t, "second", s)
	require.Zero(t, d.Buffered())
}

// decodeRequest feeds chunks to a fresh decoder the way a connection
// would, retrying after every arrival.
func decodeRequest(t *testing.T, chunks [][]byte) Request {
	t.Helper()

	d := NewDecoder(0)
	var req Request
	haveMarker := false
	for _, chunk := range chunks {
		d.Feed(chunk)
		if !haveMarker {
			m, err := d.Marker()
			if err != nil {
				require.ErrorIs(t, err, ErrIncomplete)
				continue
			}
			req.Marker, haveMarker = m, true
		}
		if req.Marker != WriteFortune {
			return req
		}
		text, err := d.Text()
		if err != nil {
			require.ErrorIs(t, err, ErrIncomplete)
			continue
		}
		req.Text = text
		return req
	}
	t.Fatalf("request not decoded from %d chunks", len(chunks))
	return req
}

func TestDecoder_ChunkBoundaryInsensitive(t *testing.T) {
	for _, want := range []Request{
		ReadRequest(),
		WriteRequest(""),
		WriteRequest("C"),
		WriteRequest("Computers are not intelligent. \U0001F600"),
	} {
		wire := want.Encode()

		// One split at every offset.
		for i := 0; i <= len(wire); i++ {
			got := decodeRequest(t, [][]byte{wire[:i], wire[i:]})
			require.Equal(t, want, got, "split at %d", i)
		}

		// One byte per arrival.
		chunks := make([][]byte, len(wire))
		for i := range wire {
			chunks[i] = wire[i : i+1]
		}
		require.Equal(t, want, decodeRequest(t, chunks))
	}
}
