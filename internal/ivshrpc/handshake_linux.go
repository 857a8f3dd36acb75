//go:build linux

package ivshrpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// protocolVersion is the only version this implementation speaks, per
// spec.md §6 step 1.
const protocolVersion int64 = 0

// PeerFD is one "peer-fd entry" of the host handshake loop (spec.md §6 step
// 4): an id and the notify (eventfd) fd associated with it.
type PeerFD struct {
	ID int64
	Fd int
}

// HandshakeResult is everything a participant learns from the host
// handshake: its own id, the shared-memory fd, its own interrupt fd (found
// by matching a PeerFD entry against MyID), and every other peer's notify
// fd.
type HandshakeResult struct {
	MyID    int64
	MemFd   int
	MyIRQFd int
	Peers   []PeerFD
}

// RunHandshake performs the client side of spec.md §6's UNIX-socket
// handshake over conn: send protocol version and my id, then receive the
// memfd and a stream of peer-fd entries (terminated when the socket is
// closed by the server), identifying which entry is this peer's own
// interrupt fd by matching id.
//
// Grounded on the teacher's receiveUffdAndRegions (internal/vm/uffd_linux.go)
// for the SCM_RIGHTS receive pattern and pool_client.go's UDS dial style.
func RunHandshake(conn *net.UnixConn, myID int64) (*HandshakeResult, error) {
	if err := sendInt64(conn, protocolVersion); err != nil {
		return nil, fmt.Errorf("ivshrpc: sending protocol version: %w", err)
	}
	if err := sendInt64(conn, myID); err != nil {
		return nil, fmt.Errorf("ivshrpc: sending my id: %w", err)
	}

	memID, memFd, err := recvInt64WithFD(conn)
	if err != nil {
		return nil, fmt.Errorf("ivshrpc: receiving memfd: %w", err)
	}
	if memID != -1 {
		return nil, fmt.Errorf("ivshrpc: expected memfd sentinel id -1, got %d", memID)
	}

	res := &HandshakeResult{MyID: myID, MemFd: memFd, MyIRQFd: -1}
	for {
		id, fd, err := recvInt64WithFD(conn)
		if err != nil {
			break // peer closed the socket: handshake loop is done (spec.md §6 step 4)
		}
		if id == myID {
			res.MyIRQFd = fd
		} else {
			res.Peers = append(res.Peers, PeerFD{ID: id, Fd: fd})
		}
	}
	if res.MyIRQFd < 0 {
		return nil, fmt.Errorf("ivshrpc: handshake ended without delivering my own interrupt fd")
	}
	return res, nil
}

// HostHandshake performs the host daemon's side of spec.md §6's handshake
// over conn for a single guest: read its protocol version and id, hand over
// memFd (the already-mmap'd shared BAR), then hand over guestWaitFd tagged
// with the guest's own id (so the guest's RunHandshake records it as
// MyIRQFd — the fd it should Wait on, i.e. the one the host Rings) and
// hostWaitFd tagged with hostID (so RunHandshake records it as a Peer entry
// — the fd the guest should Ring to notify the host, i.e. the one the host
// Waits on). Closing conn after these sends is what terminates the guest's
// receive loop.
func HostHandshake(conn *net.UnixConn, hostID int64, memFd, guestWaitFd, hostWaitFd int) (guestID int64, err error) {
	version, err := recvInt64(conn)
	if err != nil {
		return 0, fmt.Errorf("ivshrpc: receiving protocol version: %w", err)
	}
	if version != protocolVersion {
		return 0, fmt.Errorf("ivshrpc: unsupported protocol version %d", version)
	}
	guestID, err = recvInt64(conn)
	if err != nil {
		return 0, fmt.Errorf("ivshrpc: receiving peer id: %w", err)
	}

	if err := SendInt64WithFD(conn, -1, memFd); err != nil {
		return 0, fmt.Errorf("ivshrpc: sending memfd: %w", err)
	}
	if err := SendInt64WithFD(conn, guestID, guestWaitFd); err != nil {
		return 0, fmt.Errorf("ivshrpc: sending guest irq fd: %w", err)
	}
	if err := SendInt64WithFD(conn, hostID, hostWaitFd); err != nil {
		return 0, fmt.Errorf("ivshrpc: sending host irq fd: %w", err)
	}
	return guestID, nil
}

// sendInt64 writes an 8-byte little-endian int64 body with no ancillary fd.
func sendInt64(conn *net.UnixConn, v int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	_, err := conn.Write(buf)
	return err
}

// recvInt64 reads a bare 8-byte little-endian int64 with no ancillary data —
// the host daemon's side of RunHandshake's initial sendInt64 calls (protocol
// version, then the connecting peer's id).
func recvInt64(conn *net.UnixConn) (int64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// SendInt64WithFD writes an 8-byte little-endian int64 body alongside an
// SCM_RIGHTS-attached file descriptor — the host daemon's side of handing
// over the memfd and each peer's interrupt fd (spec.md §6 steps 3-4).
func SendInt64WithFD(conn *net.UnixConn, v int64, fd int) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	rights := unix.UnixRights(fd)

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sendErr error
	ctrlErr := rawConn.Write(func(fd uintptr) bool {
		sendErr = unix.Sendmsg(int(fd), buf, rights, nil, 0)
		return true
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sendErr
}

// recvInt64WithFD reads an 8-byte little-endian int64 body plus exactly one
// SCM_RIGHTS fd, matching the host handshake's per-message framing.
func recvInt64WithFD(conn *net.UnixConn) (int64, int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, -1, err
	}

	buf := make([]byte, 8)
	oob := make([]byte, unix.CmsgSpace(4))
	var n, oobn int
	var recvErr error
	ctrlErr := rawConn.Read(func(fd uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(fd), buf, oob, 0)
		return true
	})
	if ctrlErr != nil {
		return 0, -1, ctrlErr
	}
	if recvErr != nil {
		return 0, -1, recvErr
	}
	if n < 8 {
		return 0, -1, fmt.Errorf("ivshrpc: short read (%d bytes) in handshake message", n)
	}
	v := int64(binary.LittleEndian.Uint64(buf))

	if oobn == 0 {
		return 0, -1, fmt.Errorf("ivshrpc: handshake message carried no ancillary fd")
	}
	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, -1, fmt.Errorf("ivshrpc: parsing control message: %w", err)
	}
	for _, scm := range scms {
		fds, err := unix.ParseUnixRights(&scm)
		if err == nil && len(fds) > 0 {
			return v, fds[0], nil
		}
	}
	return 0, -1, fmt.Errorf("ivshrpc: control message carried no rights")
}
