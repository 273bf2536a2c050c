package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLVRoundTrip(t *testing.T) {
	buf := make([]byte, TLVLen)
	want := TLV{Type: TypeRequest, Len: 1234}
	PackTLV(buf, want)
	got, err := UnpackTLV(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRequestHeaderRoundTrip(t *testing.T) {
	cases := []RequestHeader{
		{},
		{
			Version: 1, Flags: FlagSmallZeroCopy, ReqHdrLen: ReqHdrFixedLen,
			Tid: 0xBEEF, Opcode: byte(OpRead),
			RecvNumSGE: 0, ReadNumSGE: 4, WriteNumSGE: 0,
			UlpHdrLen: 32, UlpPadLen: 3, UlpImmLen: 1 << 40,
		},
		{
			Version: 1, Flags: FlagNone, ReqHdrLen: ReqHdrFixedLen,
			Tid: 0xFFFF, Opcode: byte(OpSend),
			RecvNumSGE: 1, ReadNumSGE: 0, WriteNumSGE: 0,
			UlpHdrLen: 0, UlpPadLen: 0, UlpImmLen: 0,
		},
	}
	for _, h := range cases {
		h.ReqHdrLen = ReqHdrFixedLen
		buf := make([]byte, ReqHdrFixedLen)
		PackRequestHeader(buf, h)
		got, err := UnpackRequestHeader(buf)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestRequestHeaderInvalidLen(t *testing.T) {
	h := RequestHeader{ReqHdrLen: 99}
	buf := make([]byte, ReqHdrFixedLen)
	PackRequestHeader(buf, h)
	_, err := UnpackRequestHeader(buf)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	h := ResponseHeader{
		Version: 1, Flags: FlagImmSendComp, RspHdrLen: RspHdrFixedLen,
		Tid: 7, Opcode: byte(OpWrite), Status: 0,
		WriteNumSGE: 3, UlpHdrLen: 16, UlpPadLen: 0, UlpImmLen: 4096,
	}
	buf := make([]byte, RspHdrFixedLen)
	PackResponseHeader(buf, h)
	got, err := UnpackResponseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestResponseHeaderInvalidLen(t *testing.T) {
	h := ResponseHeader{RspHdrLen: 1}
	buf := make([]byte, RspHdrFixedLen)
	PackResponseHeader(buf, h)
	_, err := UnpackResponseHeader(buf)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSegmentsRoundTrip(t *testing.T) {
	sges := []SGE{
		{Addr: 0x1000, Length: 4096, Stag: 0},
		{Addr: 0x2000, Length: 8192, Stag: 0xAA},
	}
	buf := make([]byte, SegmentsLen(len(sges)))
	PackSegments(buf, sges)
	got, err := UnpackSegments(buf, len(sges))
	require.NoError(t, err)
	assert.Equal(t, sges, got)
}

func TestSegmentsShortBuffer(t *testing.T) {
	_, err := UnpackSegments(make([]byte, 4), 2)
	assert.ErrorIs(t, err, ErrShort)
}

func TestWriteLengthsRoundTrip(t *testing.T) {
	lens := []uint32{4096, 8192, 1}
	buf := make([]byte, WriteLengthsLen(len(lens)))
	PackWriteLengths(buf, lens)
	got, err := UnpackWriteLengths(buf, len(lens))
	require.NoError(t, err)
	assert.Equal(t, lens, got)
}

func TestClassifyTLVType(t *testing.T) {
	assert.True(t, IsSetup(TypeSetupRequest))
	assert.True(t, IsSetup(TypeSetupReply))
	assert.True(t, IsRequest(TypeRequest))
	assert.True(t, IsResponse(TypeResponse))
	assert.False(t, IsRequest(TypeResponse))
	assert.False(t, IsResponse(TypeRequest))
}
