// Package wire implements the on-stream header codec of spec.md §4.1:
// the fixed-size request/response transport headers and their trailing
// segment-descriptor tails, in explicit network byte order.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrInvalid is returned when a header's declared length field does not
// match the fixed size this codec expects on unpack. Callers map this to
// the datapath's MSG_INVALID error kind.
var ErrInvalid = errors.New("wire: malformed header")

// ErrShort is returned when the supplied buffer is too small to contain
// the header (and, where applicable, its segment descriptor tail).
var ErrShort = errors.New("wire: buffer too short")

// TLV is the framing prefix that precedes every transport header on the
// stream: a 16-bit message type and a 32-bit payload length.
type TLV struct {
	Type uint16
	Len  uint32
}

// TLVLen is the fixed encoded size of a TLV prefix.
const TLVLen = 6

// PackTLV encodes t into buf[:TLVLen]. buf must be at least TLVLen bytes.
func PackTLV(buf []byte, t TLV) {
	binary.BigEndian.PutUint16(buf[0:2], t.Type)
	binary.BigEndian.PutUint32(buf[2:6], t.Len)
}

// UnpackTLV decodes a TLV prefix from buf[:TLVLen].
func UnpackTLV(buf []byte) (TLV, error) {
	if len(buf) < TLVLen {
		return TLV{}, ErrShort
	}
	return TLV{
		Type: binary.BigEndian.Uint16(buf[0:2]),
		Len:  binary.BigEndian.Uint32(buf[2:6]),
	}, nil
}

// Message type carried in the TLV prefix.
const (
	TypeSetupRequest uint16 = 1
	TypeSetupReply   uint16 = 2
	TypeRequest      uint16 = 3
	TypeResponse     uint16 = 4
)

// IsRequest and IsResponse classify an application (non-setup) TLV type.
func IsRequest(t uint16) bool  { return t == TypeRequest }
func IsResponse(t uint16) bool { return t == TypeResponse }
func IsSetup(t uint16) bool    { return t == TypeSetupRequest || t == TypeSetupReply }

// Opcode is the transport-chosen payload placement mode of spec.md's
// GLOSSARY: SEND (inline), READ (peer fetches), WRITE (peer places).
type Opcode byte

const (
	OpSend Opcode = iota
	OpRead
	OpWrite
)

// Header flags (single byte, unconverted per spec.md §4.1).
const (
	FlagNone           byte = 0
	FlagSmallZeroCopy  byte = 1 << 0
	FlagMoreInBatch    byte = 1 << 1
	FlagImmSendComp    byte = 1 << 2
)

// SGE is a segment descriptor: address, length, and an opaque memory
// region handle. MR is carried for wire compatibility with an RDMA
// deployment but unused by this transport (GLOSSARY: MR).
type SGE struct {
	Addr   uint64
	Length uint32
	Stag   uint32
}

const sgeLen = 16

func packSGE(buf []byte, s SGE) {
	binary.BigEndian.PutUint64(buf[0:8], s.Addr)
	binary.BigEndian.PutUint32(buf[8:12], s.Length)
	binary.BigEndian.PutUint32(buf[12:16], s.Stag)
}

func unpackSGE(buf []byte) SGE {
	return SGE{
		Addr:   binary.BigEndian.Uint64(buf[0:8]),
		Length: binary.BigEndian.Uint32(buf[8:12]),
		Stag:   binary.BigEndian.Uint32(buf[12:16]),
	}
}

// RequestHeader is the fixed-size prefix of a request transport header,
// per spec.md §4.1. Trailing segment descriptors (recv, then read, then
// write SGEs) are packed/unpacked separately via PackSegments/UnpackSegments.
type RequestHeader struct {
	Version     byte
	Flags       byte
	ReqHdrLen   uint16
	Tid         uint16
	Opcode      byte
	RecvNumSGE  uint16
	ReadNumSGE  uint16
	WriteNumSGE uint16
	UlpHdrLen   uint16
	UlpPadLen   uint16
	UlpImmLen   uint64
}

// ReqHdrFixedLen is the encoded size of RequestHeader's fixed fields,
// excluding the segment descriptor tail. Layout (all multi-byte fields
// network byte order):
//
//	0:       version (1)
//	1:       flags (1)
//	2:4      req_hdr_len (2)
//	4:6      tid (2)
//	6:       opcode (1)
//	7:       reserved (1)
//	8:10     recv_num_sge (2)
//	10:12    read_num_sge (2)
//	12:14    write_num_sge (2)
//	14:16    ulp_hdr_len (2)
//	16:18    ulp_pad_len (2)
//	18:20    reserved, aligns the 8-byte field below (2)
//	20:28    ulp_imm_len (8)
const ReqHdrFixedLen = 28

// PackRequestHeader encodes h's fixed fields into buf[:ReqHdrFixedLen].
func PackRequestHeader(buf []byte, h RequestHeader) {
	buf[0] = h.Version
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], h.ReqHdrLen)
	binary.BigEndian.PutUint16(buf[4:6], h.Tid)
	buf[6] = h.Opcode
	buf[7] = 0
	binary.BigEndian.PutUint16(buf[8:10], h.RecvNumSGE)
	binary.BigEndian.PutUint16(buf[10:12], h.ReadNumSGE)
	binary.BigEndian.PutUint16(buf[12:14], h.WriteNumSGE)
	binary.BigEndian.PutUint16(buf[14:16], h.UlpHdrLen)
	binary.BigEndian.PutUint16(buf[16:18], h.UlpPadLen)
	buf[18], buf[19] = 0, 0
	binary.BigEndian.PutUint64(buf[20:28], h.UlpImmLen)
}

// UnpackRequestHeader decodes the fixed fields from buf. It returns
// ErrInvalid if h.ReqHdrLen (as encoded on the wire) does not equal
// ReqHdrFixedLen, per spec.md §4.1's "mismatch fails with MSG_INVALID".
func UnpackRequestHeader(buf []byte) (RequestHeader, error) {
	if len(buf) < ReqHdrFixedLen {
		return RequestHeader{}, ErrShort
	}
	h := RequestHeader{
		Version:     buf[0],
		Flags:       buf[1],
		ReqHdrLen:   binary.BigEndian.Uint16(buf[2:4]),
		Tid:         binary.BigEndian.Uint16(buf[4:6]),
		Opcode:      buf[6],
		RecvNumSGE:  binary.BigEndian.Uint16(buf[8:10]),
		ReadNumSGE:  binary.BigEndian.Uint16(buf[10:12]),
		WriteNumSGE: binary.BigEndian.Uint16(buf[12:14]),
		UlpHdrLen:   binary.BigEndian.Uint16(buf[14:16]),
		UlpPadLen:   binary.BigEndian.Uint16(buf[16:18]),
		UlpImmLen:   binary.BigEndian.Uint64(buf[20:28]),
	}
	if h.ReqHdrLen != ReqHdrFixedLen {
		return RequestHeader{}, ErrInvalid
	}
	return h, nil
}

// PackSegments encodes a descriptor tail (in recv, read, write order, as
// spec.md §4.1 mandates) into buf.
func PackSegments(buf []byte, sges []SGE) {
	off := 0
	for _, s := range sges {
		packSGE(buf[off:off+sgeLen], s)
		off += sgeLen
	}
}

// UnpackSegments decodes n consecutive SGE entries from buf.
func UnpackSegments(buf []byte, n int) ([]SGE, error) {
	if len(buf) < n*sgeLen {
		return nil, ErrShort
	}
	out := make([]SGE, n)
	for i := 0; i < n; i++ {
		out[i] = unpackSGE(buf[i*sgeLen : (i+1)*sgeLen])
	}
	return out, nil
}

// SegmentsLen returns the encoded byte length of n segment descriptors.
func SegmentsLen(n int) int { return n * sgeLen }

// ResponseHeader is the fixed-size prefix of a response transport header.
type ResponseHeader struct {
	Version     byte
	Flags       byte
	RspHdrLen   uint16
	Tid         uint16
	Opcode      byte
	Status      uint32
	WriteNumSGE uint16
	UlpHdrLen   uint16
	UlpPadLen   uint16
	UlpImmLen   uint64
}

// RspHdrFixedLen is the encoded size of ResponseHeader's fixed fields.
// Layout mirrors RequestHeader's: a 2-byte reserved pad at 18:20 aligns
// the trailing 8-byte ulp_imm_len field at offset 20.
const RspHdrFixedLen = 28

func PackResponseHeader(buf []byte, h ResponseHeader) {
	buf[0] = h.Version
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], h.RspHdrLen)
	binary.BigEndian.PutUint16(buf[4:6], h.Tid)
	buf[6] = h.Opcode
	buf[7] = 0
	binary.BigEndian.PutUint32(buf[8:12], h.Status)
	binary.BigEndian.PutUint16(buf[12:14], h.WriteNumSGE)
	binary.BigEndian.PutUint16(buf[14:16], h.UlpHdrLen)
	binary.BigEndian.PutUint16(buf[16:18], h.UlpPadLen)
	buf[18], buf[19] = 0, 0
	binary.BigEndian.PutUint64(buf[20:28], h.UlpImmLen)
}

func UnpackResponseHeader(buf []byte) (ResponseHeader, error) {
	if len(buf) < RspHdrFixedLen {
		return ResponseHeader{}, ErrShort
	}
	h := ResponseHeader{
		Version:     buf[0],
		Flags:       buf[1],
		RspHdrLen:   binary.BigEndian.Uint16(buf[2:4]),
		Tid:         binary.BigEndian.Uint16(buf[4:6]),
		Opcode:      buf[6],
		Status:      binary.BigEndian.Uint32(buf[8:12]),
		WriteNumSGE: binary.BigEndian.Uint16(buf[12:14]),
		UlpHdrLen:   binary.BigEndian.Uint16(buf[14:16]),
		UlpPadLen:   binary.BigEndian.Uint16(buf[16:18]),
		UlpImmLen:   binary.BigEndian.Uint64(buf[20:28]),
	}
	if h.RspHdrLen != RspHdrFixedLen {
		return ResponseHeader{}, ErrInvalid
	}
	return h, nil
}

// PackWriteLengths encodes a response's trailing length-only descriptor
// tail (one length per write segment, per spec.md §4.1).
func PackWriteLengths(buf []byte, lengths []uint32) {
	for i, l := range lengths {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], l)
	}
}

// UnpackWriteLengths decodes n consecutive lengths from buf.
func UnpackWriteLengths(buf []byte, n int) ([]uint32, error) {
	if len(buf) < n*4 {
		return nil, ErrShort
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out, nil
}

// WriteLengthsLen returns the encoded byte length of n write lengths.
func WriteLengthsLen(n int) int { return n * 4 }

// SetupPDU is the fixed-size payload of the setup sub-protocol's two
// message types (spec.md §4.7): a proposed/negotiated buffer size plus
// each side's advertised segment-count caps.
type SetupPDU struct {
	BufferSz    uint32
	MaxInIovsz  uint16
	MaxOutIovsz uint16
}

// SetupPDULen is the encoded size of a SetupPDU.
const SetupPDULen = 8

// PackSetupPDU encodes p into buf[:SetupPDULen].
func PackSetupPDU(buf []byte, p SetupPDU) {
	binary.BigEndian.PutUint32(buf[0:4], p.BufferSz)
	binary.BigEndian.PutUint16(buf[4:6], p.MaxInIovsz)
	binary.BigEndian.PutUint16(buf[6:8], p.MaxOutIovsz)
}

// UnpackSetupPDU decodes a SetupPDU from buf.
func UnpackSetupPDU(buf []byte) (SetupPDU, error) {
	if len(buf) < SetupPDULen {
		return SetupPDU{}, ErrShort
	}
	return SetupPDU{
		BufferSz:    binary.BigEndian.Uint32(buf[0:4]),
		MaxInIovsz:  binary.BigEndian.Uint16(buf[4:6]),
		MaxOutIovsz: binary.BigEndian.Uint16(buf[6:8]),
	}, nil
}
