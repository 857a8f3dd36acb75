// Package ivshrpc implements the shared-memory RPC transport named by
// spec.md §4.C, grounded on
// _examples/original_source/kernel/src/ivshrpc.rs and the host-side
// counterpart referenced from dsmmcken-dh-cli's vsock/UNIX-socket handshake
// code (internal/vm/pool_client.go, machine_linux.go).
//
// Two peers (conventionally "kernel" and "host") each own one half of a
// shared 4 MiB region: their producer ring for outbound frames, the other
// half as their consumer ring for inbound ones. Every frame is a 13-byte
// MsgHeader followed by an SOS payload.
package ivshrpc

import (
	"encoding/binary"
	"fmt"
)

// MsgType identifies the kind of an ivshrpc frame.
type MsgType byte

const (
	MsgCast MsgType = iota
	MsgFuse
	MsgReturn
	MsgError
)

func (t MsgType) String() string {
	switch t {
	case MsgCast:
		return "Cast"
	case MsgFuse:
		return "Fuse"
	case MsgReturn:
		return "Return"
	case MsgError:
		return "Error"
	default:
		return "Unknown"
	}
}

// HeaderSize is the packed, native-endian wire size of MsgHeader: 1 + 4 + 8.
const HeaderSize = 13

// BufferSize is the total shared-BAR size (spec.md §6); each peer's half is
// BufferSize/2 bytes, carrying its own ring header plus data.
const BufferSize = 4 * 1024 * 1024

// MsgHeader is the 13-byte frame header preceding every SOS payload.
type MsgHeader struct {
	MsgType MsgType
	Length  uint32
	CallId  uint64
}

// Marshal writes h into buf, which must be at least HeaderSize bytes.
func (h MsgHeader) Marshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("ivshrpc: header buffer too small")
	}
	buf[0] = byte(h.MsgType)
	binary.LittleEndian.PutUint32(buf[1:5], h.Length)
	binary.LittleEndian.PutUint64(buf[5:13], h.CallId)
	return nil
}

// UnmarshalHeader reads a MsgHeader out of buf, which must be at least
// HeaderSize bytes.
func UnmarshalHeader(buf []byte) (MsgHeader, error) {
	if len(buf) < HeaderSize {
		return MsgHeader{}, fmt.Errorf("ivshrpc: truncated header")
	}
	return MsgHeader{
		MsgType: MsgType(buf[0]),
		Length:  binary.LittleEndian.Uint32(buf[1:5]),
		CallId:  binary.LittleEndian.Uint64(buf[5:13]),
	}, nil
}
