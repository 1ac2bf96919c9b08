package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_String(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{MasterAddress, "00"},
		{1, "01"},
		{5, "05"},
		{1 | 1<<3, "011"},
		{5 | 5<<3, "055"},
		{0o1234, "01234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.addr.String())
	}
}

func TestHeader_EncodeParse(t *testing.T) {
	h := Header{From: 0o11, To: MasterAddress, ID: 0xBEEF, Type: TypeSensor, Reserved: 7}

	b := h.Encode()
	require.Len(t, b, HeaderSize)
	assert.Equal(t, []byte{0x09, 0x00, 0x00, 0x00, 0xEF, 0xBE, 'M', 7}, b)

	got, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseHeader_Short(t *testing.T) {
	_, err := ParseHeader([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestHeader_IsSystem(t *testing.T) {
	assert.False(t, Header{Type: TypeSensor}.IsSystem())
	assert.False(t, Header{Type: 127}.IsSystem())
	assert.True(t, Header{Type: TypeAddressResponse}.IsSystem())
	assert.True(t, Header{Type: TypeAddressRequest}.IsSystem())
}

func TestSensorRecord_Decode(t *testing.T) {
	want := SensorRecord{Temperature: 72, NodeID: 5}
	b := want.Encode()
	require.Len(t, b, SensorPayloadSize)
	assert.Equal(t, byte(72), b[0])
	assert.Equal(t, byte(5), b[8])

	got, err := DecodeSensorRecord(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	largest := SensorRecord{Temperature: ^uint64(0), NodeID: ^uint64(0)}
	got, err = DecodeSensorRecord(largest.Encode())
	require.NoError(t, err)
	assert.Equal(t, largest, got)
}

func TestDecodeSensorRecord_WrongSize(t *testing.T) {
	for _, n := range []int{0, 8, 15, 17, 24} {
		_, err := DecodeSensorRecord(make([]byte, n))
		assert.ErrorIs(t, err, ErrDecodeFailed, "size %d", n)
	}
}

func TestFrameError(t *testing.T) {
	err := &FrameError{Type: 3, From: 0o12, Size: 4, Err: ErrUnrecognizedFrame}
	assert.ErrorIs(t, err, ErrUnrecognizedFrame)
	assert.Contains(t, err.Error(), "type 3 from 012")
}
