package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFrameRejectsUnregisteredType(t *testing.T) {
	_, err := EncodeFrame(Type("BOGUS"), map[string]int{"x": 1})
	require.Error(t, err)
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := map[string]any{"level": 5, "hp": 100}
	data, err := EncodeFrame(TypeStats, payload)
	require.NoError(t, err)
	require.Equal(t, byte(0x00), data[0])

	in, err := DecodeInbound(data)
	require.NoError(t, err)
	require.Equal(t, KindFrame, in.Kind)
	require.Equal(t, TypeStats, in.Type)
}

func TestDecodeInboundPlainText(t *testing.T) {
	in, err := DecodeInbound([]byte("look\n"))
	require.NoError(t, err)
	require.Equal(t, KindText, in.Kind)
	require.Equal(t, "look", string(in.Body))
}

func TestDecodeInboundUnknownTypeIsProtocolError(t *testing.T) {
	raw := append([]byte{0x00}, []byte("[NOPE]{}\n")...)
	_, err := DecodeInbound(raw)
	require.Error(t, err)
}

func TestDecodeInboundPong(t *testing.T) {
	raw := append([]byte{0x00}, []byte("[PONG]{}")...)
	in, err := DecodeInbound(raw)
	require.NoError(t, err)
	require.Equal(t, KindPong, in.Kind)
}

// Frame atomicity (invariant 5): concatenating N encoded frames and decoding
// them one at a time (split on the frame marker) must never observe a
// partial frame.
func TestFrameAtomicityAcrossConcatenation(t *testing.T) {
	var all []byte
	frames := []Type{TypeStats, TypeMap, TypeCombat}
	for _, ft := range frames {
		f, err := EncodeFrame(ft, map[string]int{"v": 1})
		require.NoError(t, err)
		all = append(all, f...)
	}

	// Split on frame marker boundaries, as a reader would.
	var decoded []Type
	for len(all) > 0 {
		if all[0] != 0x00 {
			break
		}
		end := indexNewline(all)
		chunk := all[:end+1]
		in, err := DecodeInbound(chunk)
		require.NoError(t, err)
		decoded = append(decoded, in.Type)
		all = all[end+1:]
	}
	require.Equal(t, frames, decoded)
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return len(b) - 1
}
