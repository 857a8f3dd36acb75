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
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bahusvel/faastr-go/internal/ring"
	"github.com/bahusvel/faastr-go/internal/sos"
)

// headerSpin is the shadow-refresh attempt budget the dispatch loop gives a
// header read before concluding the ring is quiescent — spec.md §4.C step 1.
const headerSpin = 1000

// Doorbell models the RPC device's interrupt pair (spec.md §6 offsets 0x4,
// 0xC): Ring raises an IRQ on the peer, Wait blocks until this peer's own
// IRQ fires (offset 0x4's read-clears-status semantics are folded into the
// channel receive). Two implementations are provided: chanDoorbell for an
// in-process loopback (tests, and a kernel/host pair sharing one address
// space) and an eventfd-backed one for the real cross-process BAR (see
// doorbell_linux.go).
type Doorbell interface {
	Ring() error
	Wait() <-chan struct{}
}

// Handler resolves local targets for frames arriving over the transport.
// Cast and Fuse are invoked with the decoded SOS argument values; Fuse's
// result (or error) is sent back to the originating peer with the same
// CallId, per spec.md §4.C step 3.
type Handler interface {
	Cast(args []sos.Value) error
	Fuse(args []sos.Value) ([]sos.Value, error)
}

// CallQueue is the process-wide mapping from CallId to a parked caller,
// guarded by a spin-mutex per spec.md §3/§5. Peer is generic over what a
// "parked caller" is: a channel the sender blocks reading from, since a
// hosted goroutine has no Context to mark Blocked the way the kernel does.
type CallQueue struct {
	mu      sync.Mutex
	pending map[uint64]chan callResult
}

type callResult struct {
	payload []byte
	isError bool
}

func newCallQueue() *CallQueue {
	return &CallQueue{pending: make(map[uint64]chan callResult)}
}

// park registers callID and returns the channel its eventual Return/Error
// will be delivered on. Per spec.md §8 property 7, at most one entry exists
// for a given CallId at a time.
func (q *CallQueue) park(callID uint64) chan callResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan callResult, 1)
	q.pending[callID] = ch
	return ch
}

// deliver looks up callID and, if present, hands it result and removes the
// entry; an unknown callID is reported to the caller as "not found" so the
// dispatch loop can log-and-discard per spec.md §4.C failure semantics.
func (q *CallQueue) deliver(callID uint64, result callResult) bool {
	q.mu.Lock()
	ch, ok := q.pending[callID]
	if ok {
		delete(q.pending, callID)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	return true
}

// Peer is one end of the shared-memory RPC transport: a producer ring for
// outbound frames, a consumer ring for inbound ones, a CallQueue for
// in-flight fuse calls this peer originated, and a Handler for frames the
// other peer sends it.
type Peer struct {
	name string

	prod *ring.Producer
	cons *ring.Consumer

	bell Doorbell

	handler Handler
	queue   *CallQueue
	nextID  uint64
	idMu    sync.Mutex

	log *logrus.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPeer wraps producerBuf/consumerBuf (each already carrying an
// InitHeader'd ring, see internal/ring) as a transport endpoint identified
// by name (used only for logging). log may be nil.
func NewPeer(name string, producerBuf, consumerBuf []byte, bell Doorbell, handler Handler, log *logrus.Logger) *Peer {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Peer{
		name:    name,
		prod:    ring.NewProducer(producerBuf),
		cons:    ring.NewConsumer(consumerBuf),
		bell:    bell,
		handler: handler,
		queue:   newCallQueue(),
		nextID:  1,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run drives the interrupt-triggered dispatch loop (spec.md §4.C "Dispatch
// loop") until Close is called. Each iteration waits for the peer's
// doorbell, then drains every complete frame currently in the consumer
// ring before waiting again.
func (p *Peer) Run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.bell.Wait():
		}
		for p.dispatchOne() {
		}
	}
}

// Close stops Run's loop and waits for it to return.
func (p *Peer) Close() {
	close(p.stop)
	<-p.done
}

// dispatchOne consumes and handles at most one frame, returning whether a
// frame was found. Per spec.md §4.C step 1, a missing header is given one
// more single-attempt retry (spin=1) before giving up until the next
// interrupt — guarding against the frame having been fully stored between
// the bulk spin-1000 attempt and the loop's exit.
func (p *Peer) dispatchOne() bool {
	hh := p.cons.TryRead(HeaderSize, headerSpin)
	if hh == nil {
		hh = p.cons.TryRead(HeaderSize, 1)
		if hh == nil {
			return false
		}
	}
	headerBytes := append([]byte(nil), hh.Bytes()...)
	hh.Commit()

	header, err := UnmarshalHeader(headerBytes)
	if err != nil {
		p.log.WithError(err).Warn("ivshrpc: malformed header, dropping frame")
		return true
	}

	ph := p.cons.Read(int(header.Length))
	payload := append([]byte(nil), ph.Bytes()...)
	ph.Commit()

	p.handleFrame(header, payload)
	return true
}

func (p *Peer) handleFrame(header MsgHeader, payload []byte) {
	switch header.MsgType {
	case MsgCast:
		args, err := sos.DecodeAll(payload)
		if err != nil {
			p.log.WithError(err).Warn("ivshrpc: malformed cast payload")
			return
		}
		if err := p.handler.Cast(args); err != nil {
			p.sendError(header.CallId, err)
		}
	case MsgFuse:
		go p.serveFuse(header.CallId, payload)
	case MsgReturn, MsgError:
		if !p.queue.deliver(header.CallId, callResult{payload: payload, isError: header.MsgType == MsgError}) {
			p.log.Warnf("ivshrpc: %s for unknown callid %d, discarding", header.MsgType, header.CallId)
		}
	default:
		p.log.Warnf("ivshrpc: unknown msgtype %d, dropping frame", header.MsgType)
	}
}

// serveFuse runs a Fuse request to completion and sends its Return or Error
// frame back with the same CallId — spec.md's prescription for the
// fuse_proxy callid bug noted in SPEC_FULL.md §5.2.
func (p *Peer) serveFuse(callID uint64, payload []byte) {
	args, err := sos.DecodeAll(payload)
	if err != nil {
		p.sendError(callID, err)
		return
	}
	result, err := p.handler.Fuse(args)
	if err != nil {
		p.sendError(callID, err)
		return
	}
	if err := p.sendValues(MsgReturn, callID, result); err != nil {
		p.log.WithError(err).Error("ivshrpc: sending Return frame")
	}
}

// allocCallID returns this peer's next monotonically increasing CallId.
func (p *Peer) allocCallID() uint64 {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	id := p.nextID
	p.nextID++
	return id
}

// Cast sends a fire-and-forget frame and returns immediately: the caller
// never blocks and CALL_QUEUE is never touched for it, per spec.md §8
// property 6.
func (p *Peer) Cast(args []sos.Value) error {
	return p.sendValues(MsgCast, p.allocCallID(), args)
}

// Fuse sends a Fuse frame, parks on a fresh CallId, and blocks until the
// peer's Return or Error frame arrives, returning the decoded result or a
// protocol/remote error. Mirrors spec.md §4.C "call identifiers" and the
// S5/S6 end-to-end scenarios.
func (p *Peer) Fuse(args []sos.Value) ([]sos.Value, error) {
	callID := p.allocCallID()
	ch := p.queue.park(callID)
	if err := p.sendValues(MsgFuse, callID, args); err != nil {
		return nil, err
	}
	res := <-ch
	if res.isError {
		values, err := sos.DecodeAll(res.payload)
		if err != nil {
			return nil, fmt.Errorf("ivshrpc: decoding error payload: %w", err)
		}
		if len(values) > 0 {
			msg, _ := values[0].AsString()
			return nil, fmt.Errorf("ivshrpc: remote error: %s", msg)
		}
		return nil, fmt.Errorf("ivshrpc: remote error (empty payload)")
	}
	return sos.DecodeAll(res.payload)
}

func (p *Peer) sendError(callID uint64, err error) {
	if sendErr := p.sendValues(MsgError, callID, []sos.Value{sos.Error(err.Error())}); sendErr != nil {
		p.log.WithError(sendErr).Error("ivshrpc: sending Error frame")
	}
}

// sendValues encodes values, writes header+payload into a single write
// handle (spec.md §4.C step 4: "write header+payload via a single write
// handle"), and rings the peer's doorbell.
func (p *Peer) sendValues(msgType MsgType, callID uint64, values []sos.Value) error {
	payloadLen := sos.EncodedLen(values)
	header := MsgHeader{MsgType: msgType, Length: uint32(payloadLen), CallId: callID}

	wh := p.prod.Write(HeaderSize + payloadLen)
	buf := wh.Bytes()
	if err := header.Marshal(buf[:HeaderSize]); err != nil {
		return err
	}
	if _, err := sos.Encode(buf[HeaderSize:], values); err != nil {
		return err
	}
	wh.Commit()

	return p.bell.Ring()
}
