package utp

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// state is a Connection's position in the state machine of spec §4.2.
type state int32

const (
	stateIdle state = iota
	stateSynSent
	stateSynReceived
	stateConnected
	stateFinSent
	stateFinReceived
	stateClosed
	stateReset
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateSynSent:
		return "SynSent"
	case stateSynReceived:
		return "SynReceived"
	case stateConnected:
		return "Connected"
	case stateFinSent:
		return "FinSent"
	case stateFinReceived:
		return "FinReceived"
	case stateClosed:
		return "Closed"
	case stateReset:
		return "Reset"
	default:
		return "Unknown"
	}
}

// rawSender is the non-owning capability a Connection holds to reach the
// shared UDP socket (spec §9: ownership and capability are kept separate so
// Connection and Socket need not hold a reference cycle).
type rawSender interface {
	sendRaw(addr net.Addr, b []byte) error
}

// Events lets the Socket multiplexer learn when a Connection has torn
// itself down, so it can be removed from the demux tables.
type Events interface {
	connClosed(c *Conn)
}

// pendingWrite is one application write chunked and waiting for send-buffer
// room.
type pendingWrite struct {
	data []byte
	done chan error
}

// Conn is a single uTP connection: the state machine of spec §4.2 plus the
// reliability engine and congestion controller that back it. Grounded on
// kraken's lib/torrent/scheduler/conn.Conn idiom: an atomic closed flag, an
// injected clock, a done channel plus WaitGroup shutdown, and a
// zap.SugaredLogger/tally.Scope pair for observability.
type Conn struct {
	// connID is the single id identifying this flow in both directions.
	// This implementation deliberately simplifies BEP 29's real
	// recv_id/send_id=recv_id+1 split into one shared id per Connection:
	// the Socket multiplexer's active-id set already guarantees global
	// uniqueness, and a flow's (remote_addr, id) pair is always enough to
	// demultiplex it, so a second id buys nothing here. See DESIGN.md.
	connID     uint16
	remoteAddr net.Addr
	openedByUs bool

	cfg    Config
	clk    clock.Clock
	logger *zap.SugaredLogger
	stats  tally.Scope
	events Events
	sender rawSender

	startedAt time.Time

	mu                sync.Mutex
	st                state
	localSeqNr        seqNr // next seq_nr this side will stamp on an outgoing packet
	synSeqNr          seqNr // seq_nr our SYN was sent with, to match the handshake ack
	localWindowScale  uint8
	peerWindowScale   uint8
	negotiatedScale   uint8
	peerWindow        uint32 // peer's last advertised window, pre-shift
	ecnNegotiated     bool
	ecnCEReceived     bool
	ecnEchoPending    bool
	ecnCWRPending     bool
	lastPeerTimestamp uint32
	lastPeerRecvAt    time.Time

	rel  *reliability
	cong *congestion

	recvQueue    bytes.Buffer
	recvEOF      bool
	recvNotify   chan struct{}

	incoming chan *packet
	writes   chan *pendingWrite

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	connectResult chan error
	closeErr      error
}

func newConn(
	connID uint16,
	remoteAddr net.Addr,
	cfg Config,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	stats tally.Scope,
	events Events,
	sender rawSender,
	openedByUs bool,
) *Conn {
	return &Conn{
		connID:           connID,
		remoteAddr:       remoteAddr,
		openedByUs:       openedByUs,
		cfg:              cfg,
		clk:              clk,
		logger:           logger,
		stats:            stats,
		events:           events,
		sender:           sender,
		startedAt:        clk.Now(),
		st:               stateIdle,
		localWindowScale: cfg.WindowScaleShift,
		rel:              newReliability(cfg),
		cong:             newCongestion(cfg),
		recvNotify:       make(chan struct{}, 1),
		incoming:         make(chan *packet, cfg.ReceiveBufferSize),
		writes:           make(chan *pendingWrite, cfg.SendBufferSize),
		closed:           atomic.NewBool(false),
		done:             make(chan struct{}),
		connectResult:    make(chan error, 1),
	}
}

func (c *Conn) log() *zap.SugaredLogger {
	return c.logger.With("conn_id", c.connID, "remote_addr", c.remoteAddr)
}

func (c *Conn) timestampUs() uint32 {
	return uint32(c.clk.Now().Sub(c.startedAt).Microseconds())
}

// negotiateWindowScale picks the smaller of the two advertised shifts (spec
// §4.6 seed case 7): neither side may assume more scaling than its peer
// can parse.
func negotiateWindowScale(local, peer uint8) uint8 {
	if local < peer {
		return local
	}
	return peer
}

// effectiveWindow applies the negotiated window scale to a raw advertised
// window value.
func effectiveWindow(raw uint32, scale uint8) uint32 {
	return raw << scale
}

// --- active open ---

// dial starts the handshake as the active side and blocks until Connected
// or the handshake times out.
func (c *Conn) dial() error {
	c.mu.Lock()
	c.st = stateSynSent
	c.synSeqNr = c.localSeqNr
	syn := c.buildPacket(typeSyn, c.synSeqNr, 0, c.handshakeExtensions())
	c.localSeqNr++
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	if err := c.sender.sendRaw(c.remoteAddr, syn.encode()); err != nil {
		c.fail(err)
		return err
	}

	select {
	case err := <-c.connectResult:
		return err
	case <-c.done:
		return c.closeErr
	}
}

// acceptPassive installs c as a freshly-created passive connection already
// in SynReceived (the Socket has already parsed the inbound SYN and
// constructed c with the SYN's own connection id) and replies with the
// SYN-ACK.
func (c *Conn) acceptPassive(syn *packet) error {
	c.mu.Lock()
	c.st = stateSynReceived
	if ws, ok := syn.windowScale(); ok {
		c.peerWindowScale = ws.shift
	}
	c.negotiatedScale = negotiateWindowScale(c.localWindowScale, c.peerWindowScale)
	if _, ok := syn.ecn(); ok && c.cfg.EnableECN {
		c.ecnNegotiated = true
	}
	c.lastPeerTimestamp = syn.header.timestampUs
	c.lastPeerRecvAt = c.clk.Now()
	c.localSeqNr = 1 // first data/ack packet after handshake uses seq_nr=1 (spec §4.2)
	ack := c.buildPacket(typeState, c.localSeqNr, syn.header.seqNr, c.handshakeExtensions())
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	return c.sender.sendRaw(c.remoteAddr, ack.encode())
}

func (c *Conn) handshakeExtensions() []extension {
	var exts []extension
	if c.cfg.WindowScaleShift > 0 {
		exts = append(exts, extension{typ: extWScale, payload: windowScaleExtension{shift: c.cfg.WindowScaleShift}.encode()})
	}
	if c.cfg.EnableECN {
		exts = append(exts, extension{typ: extECN, payload: ecnExtension{}.encode()})
	}
	return exts
}

func (e windowScaleExtension) encode() []byte { return []byte{e.shift} }

// --- inbound dispatch (called by Socket's demux goroutine) ---

// deliver hands an inbound packet to c's event loop. It never blocks the
// caller indefinitely on a misbehaving Connection: the channel is sized by
// ReceiveBufferSize and a full channel drops the packet, matching spec
// §5's "failure isolation" (one Connection's trouble must not stall the
// multiplexer).
func (c *Conn) deliver(p *packet) {
	select {
	case c.incoming <- p:
	default:
		c.log().Warnw("dropping inbound packet, connection backlog full", "seq", p.header.seqNr)
	}
}

// --- event loop ---

func (c *Conn) run() {
	defer c.wg.Done()
	defer c.teardown()

	ticker := c.clk.Tick(20 * time.Millisecond)
	var pending *pendingWrite

	for {
		var writeCh chan *pendingWrite
		if pending == nil && c.canAcceptWrite() {
			writeCh = c.writes
		}

		select {
		case <-c.done:
			return
		case p := <-c.incoming:
			c.handlePacket(p)
		case pw := <-writeCh:
			pending = pw
		case <-ticker:
			c.onTick()
		}

		if pending != nil && c.canAcceptWrite() {
			c.sendChunk(pending.data)
			pending.done <- nil
			close(pending.done)
			pending = nil
		}

		c.mu.Lock()
		terminal := c.st == stateClosed || c.st == stateReset
		c.mu.Unlock()
		if terminal {
			return
		}
	}
}

func (c *Conn) canAcceptWrite() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateConnected {
		return false
	}
	inFlight := c.rel.inFlightBytes()
	window := c.cong.windowBytes()
	if peerEff := effectiveWindow(c.peerWindow, c.negotiatedScale); peerEff > 0 && peerEff < window {
		window = peerEff
	}
	return uint32(inFlight) < window
}

func (c *Conn) sendChunk(data []byte) {
	c.mu.Lock()
	seq := c.localSeqNr
	c.localSeqNr++
	now := c.clk.Now()
	pkt := c.buildPacket(typeData, seq, c.rel.ackNr, nil)
	pkt.payload = data
	c.mu.Unlock()

	c.rel.onSend(seq, data, now)
	c.sender.sendRaw(c.remoteAddr, pkt.encode())
}

func (c *Conn) onTick() {
	now := c.clk.Now()

	c.mu.Lock()
	st := c.st
	c.mu.Unlock()
	if st != stateConnected && st != stateSynSent && st != stateSynReceived {
		return
	}

	if st == stateSynSent && now.Sub(c.startedAt) > c.cfg.HandshakeTimeout {
		c.fail(ErrTimeout)
		return
	}

	if st != stateConnected {
		return
	}

	seqs, exhausted := c.rel.expired(now)
	if exhausted {
		c.fail(ErrMaxRetransmits)
		return
	}
	for _, seq := range seqs {
		c.retransmit(seq, now)
	}

	if c.rel.shouldAckNow(now) {
		c.sendAck()
	} else {
		c.rel.armAckTimer(now)
	}
}

func (c *Conn) retransmit(seq seqNr, now time.Time) {
	c.mu.Lock()
	_, ok := c.rel.onResend(seq, now)
	payload := c.rel.sendBuf[seq]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.cong.onLoss()
	c.stats.Counter("utp.retransmits").Inc(1)

	pkt := c.buildPacket(typeData, seq, c.rel.ackNr, nil)
	pkt.payload = payload.payload
	c.sender.sendRaw(c.remoteAddr, pkt.encode())
}

func (c *Conn) handlePacket(p *packet) {
	now := c.clk.Now()

	c.mu.Lock()
	c.lastPeerTimestamp = p.header.timestampUs
	c.lastPeerRecvAt = now
	c.peerWindow = p.header.wndSize
	st := c.st
	c.mu.Unlock()

	switch p.header.typ {
	case typeReset:
		c.fail(ErrReset)
		return
	case typeSyn:
		// A duplicate SYN for an already-handled connection: re-send our
		// SYN-ACK, don't re-run the handshake.
		if st == stateSynReceived {
			c.acceptPassive(p)
		}
		return
	}

	switch st {
	case stateSynSent:
		if isAcked(c.synSeqNr, p.header.ackNr) {
			c.completeHandshake(p)
		}
		return
	case stateSynReceived:
		if isAcked(c.synSeqNr, p.header.ackNr) || p.header.typ == typeState {
			c.mu.Lock()
			c.st = stateConnected
			c.mu.Unlock()
			c.signalConnected(nil)
		}
	}

	if p.header.typ == typeFin {
		c.mu.Lock()
		c.st = stateFinReceived
		c.mu.Unlock()
		c.sendAck()
		c.mu.Lock()
		c.recvEOF = true
		c.st = stateClosed
		c.mu.Unlock()
		c.notifyRead()
		return
	}

	if ecn, ok := p.ecn(); ok && ecn.echo {
		c.cong.onECNCongestionExperienced()
	}

	if p.header.typ == typeData {
		c.handleData(p, now)
	}
	if p.header.typ == typeData || p.header.typ == typeState {
		c.handleAck(p, now)
	}
}

func (c *Conn) completeHandshake(p *packet) {
	c.mu.Lock()
	if ws, ok := p.windowScale(); ok {
		c.peerWindowScale = ws.shift
	}
	c.negotiatedScale = negotiateWindowScale(c.localWindowScale, c.peerWindowScale)
	if _, ok := p.ecn(); ok && c.cfg.EnableECN {
		c.ecnNegotiated = true
	}
	c.st = stateConnected
	// Ack the peer's handshake reply without marking any data as received:
	// the peer's first data packet also carries seq_nr=1 and must still be
	// delivered (reliability.onData seeds ackNr from it).
	c.rel.ackNr = p.header.seqNr
	ack := c.buildPacket(typeState, c.localSeqNr, c.rel.ackNr, nil)
	c.mu.Unlock()

	c.sender.sendRaw(c.remoteAddr, ack.encode())
	c.signalConnected(nil)
}

func (c *Conn) signalConnected(err error) {
	select {
	case c.connectResult <- err:
	default:
	}
}

func (c *Conn) handleData(p *packet, now time.Time) {
	inOrder, dup := c.rel.onData(p.header.seqNr, p.payload)
	if dup {
		c.rel.sinceLastAck++ // out-of-order/duplicate traffic still forces an immediate ack
		c.sendAck()
		return
	}
	for _, chunk := range inOrder {
		c.mu.Lock()
		c.recvQueue.Write(chunk)
		c.mu.Unlock()
	}
	if len(inOrder) > 0 {
		c.notifyRead()
	}
	if len(c.rel.receivedSet()) > 0 {
		c.sendAck() // out-of-order arrivals accelerate SACK-driven recovery
		return
	}
	if c.rel.shouldAckNow(now) {
		c.sendAck()
	} else {
		c.rel.armAckTimer(now)
	}
}

func (c *Conn) handleAck(p *packet, now time.Time) {
	var sack *sackExtension
	if s, ok := p.sack(); ok {
		sack = &s
	}
	res := c.rel.onAck(p.header.ackNr, sack, now)
	if len(res.ackedSeqs) > 0 {
		c.cong.onAck(now, c.queuingDelay(p), c.rel.srtt)
	}
	if res.fastRetransmit {
		c.fastRetransmit(now)
	}
}

// queuingDelay estimates one-way queuing delay from the peer's
// timestamp_difference_us field (spec §4.4).
func (c *Conn) queuingDelay(p *packet) time.Duration {
	return time.Duration(p.header.timestampDiffUs) * time.Microsecond
}

func (c *Conn) fastRetransmit(now time.Time) {
	c.mu.Lock()
	var oldest seqNr
	found := false
	for seq := range c.rel.sendBuf {
		if !found || seqLess(seq, oldest) {
			oldest = seq
			found = true
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.cong.onLoss()
	c.retransmit(oldest, now)
}

func (c *Conn) sendAck() {
	c.mu.Lock()
	ext := c.ackExtensions()
	pkt := c.buildPacket(typeState, c.localSeqNr, c.rel.ackNr, ext)
	c.mu.Unlock()
	c.rel.ackSent()
	c.sender.sendRaw(c.remoteAddr, pkt.encode())
}

func (c *Conn) ackExtensions() []extension {
	var exts []extension
	if received := c.rel.receivedSet(); len(received) > 0 {
		s := buildSack(received)
		exts = append(exts, extension{typ: extSelack, payload: s.encode()})
	}
	if c.ecnNegotiated && (c.ecnCEReceived || c.ecnCWRPending) {
		e := ecnExtension{echo: c.ecnCEReceived, cwr: c.ecnCWRPending}
		exts = append(exts, extension{typ: extECN, payload: e.encode()})
		c.ecnCEReceived = false
		c.ecnCWRPending = false
	}
	return exts
}

func (c *Conn) buildPacket(typ packetType, seq, ack seqNr, exts []extension) *packet {
	wnd := uint32(c.cfg.ReceiveBufferSize * c.cfg.MaxSegmentSize)
	if c.negotiatedScale > 0 {
		wnd >>= c.negotiatedScale
	}
	diff := uint32(0)
	if !c.lastPeerRecvAt.IsZero() {
		diff = c.lastPeerTimestamp
	}
	return &packet{
		header: header{
			typ:             typ,
			connID:          c.outgoingConnID(),
			timestampUs:     c.timestampUs(),
			timestampDiffUs: diff,
			wndSize:         wnd,
			seqNr:           seq,
			ackNr:           ack,
		},
		extensions: exts,
	}
}

// outgoingConnID returns the connection id stamped on outgoing packets.
func (c *Conn) outgoingConnID() uint16 {
	return c.connID
}

// --- byte-stream facade support (stream.go calls these) ---

func (c *Conn) write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrNotConnected
	}
	mss := c.cfg.MaxSegmentSize
	total := 0
	for total < len(p) {
		end := total + mss
		if end > len(p) {
			end = len(p)
		}
		chunk := append([]byte(nil), p[total:end]...)
		pw := &pendingWrite{data: chunk, done: make(chan error, 1)}
		select {
		case c.writes <- pw:
		case <-c.done:
			return total, ErrNotConnected
		}
		select {
		case err := <-pw.done:
			if err != nil {
				return total, err
			}
		case <-c.done:
			return total, ErrNotConnected
		}
		total = end
	}
	return total, nil
}

func (c *Conn) read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.recvQueue.Len() > 0 {
			n, _ := c.recvQueue.Read(p)
			c.mu.Unlock()
			return n, nil
		}
		eof := c.recvEOF
		c.mu.Unlock()
		if eof {
			return 0, ErrClosed
		}
		select {
		case <-c.recvNotify:
		case <-c.done:
			return 0, ErrNotConnected
		}
	}
}

func (c *Conn) notifyRead() {
	select {
	case c.recvNotify <- struct{}{}:
	default:
	}
}

func (c *Conn) close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	c.mu.Lock()
	st := c.st
	if st == stateConnected {
		c.st = stateFinSent
	}
	fin := c.buildPacket(typeFin, c.localSeqNr, c.rel.ackNr, nil)
	c.mu.Unlock()

	if st == stateConnected {
		c.sender.sendRaw(c.remoteAddr, fin.encode())
	}
	close(c.done)
	c.notifyRead()
	c.wg.Wait()
	return nil
}

func (c *Conn) fail(err error) {
	if !c.closed.CAS(false, true) {
		return
	}
	c.mu.Lock()
	if err == ErrReset {
		c.st = stateReset
	} else {
		c.st = stateClosed
	}
	c.closeErr = err
	c.mu.Unlock()
	c.signalConnected(err)
	close(c.done)
	c.notifyRead()
}

func (c *Conn) teardown() {
	if c.events != nil {
		c.events.connClosed(c)
	}
}

func (c *Conn) state() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *Conn) isClosed() bool {
	return c.closed.Load()
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(id=%d, addr=%s, state=%s)", c.connID, c.remoteAddr, c.state())
}
