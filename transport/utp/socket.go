package utp

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	minConnID = 0x0001
	maxConnID = 0xFFFE
	// idGenRetries bounds how many candidate ids nextConnID tries before
	// giving up with ErrNoFreeId (spec §4.5).
	idGenRetries = 4096
)

// Socket is the uTP socket multiplexer (spec §4.5): a single shared UDP
// socket fronting every Connection in a process. Grounded on kraken's
// pattern of a shared net.PacketConn driven by one read loop that
// demultiplexes onto per-connection handlers.
type Socket struct {
	pc      net.PacketConn
	cfg     Config
	clk     clock.Clock
	logger  *zap.SugaredLogger
	stats   tally.Scope
	rng     *rand.Rand
	limiter *rate.Limiter

	onAccept func(*Conn)

	mu       sync.Mutex
	byAddrID map[addrID]*Conn
	byID     map[uint16]*Conn
	active   map[uint16]bool

	acceptCh chan *Conn
	done     chan struct{}
	wg       sync.WaitGroup
}

// addrID is the composite key of the "fully identified flows" table (spec
// §4.5).
type addrID struct {
	addr string
	id   uint16
}

// NewSocket wraps pc as a uTP multiplexer. rng drives connection-id
// generation; inject a seeded *rand.Rand in tests for determinism (spec
// §9).
func NewSocket(pc net.PacketConn, cfg Config, clk clock.Clock, logger *zap.SugaredLogger, stats tally.Scope, rng *rand.Rand) *Socket {
	cfg = cfg.applyDefaults()
	s := &Socket{
		pc:       pc,
		cfg:      cfg,
		clk:      clk,
		logger:   logger,
		stats:    stats,
		rng:      rng,
		byAddrID: make(map[addrID]*Conn),
		byID:     make(map[uint16]*Conn),
		active:   make(map[uint16]bool),
		acceptCh: make(chan *Conn, 64),
		done:     make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// sendRaw implements rawSender for every Conn this socket owns. When
// Config.RateLimit is set, egress is shaped through a token-bucket shared
// across every connection on this socket, grounded on kraken's
// bandwidth.Limiter.ReserveEgress: reserve the datagram's bytes as tokens
// and sleep out the reservation's delay before writing.
func (s *Socket) sendRaw(addr net.Addr, b []byte) error {
	if s.limiter != nil {
		r := s.limiter.ReserveN(time.Now(), len(b))
		if !r.OK() {
			s.stats.Counter("utp.send_errors").Inc(1)
			return fmt.Errorf("cannot reserve %d bytes of egress bandwidth, burst is %d", len(b), s.limiter.Burst())
		}
		time.Sleep(r.Delay())
	}

	_, err := s.pc.WriteTo(b, addr)
	if err != nil {
		s.stats.Counter("utp.send_errors").Inc(1)
		return err
	}
	s.stats.Counter("utp.bytes_out").Inc(int64(len(b)))
	return nil
}

// Dial opens an active connection to addr.
func (s *Socket) Dial(addr net.Addr) (*Stream, error) {
	id, err := s.nextConnID()
	if err != nil {
		return nil, err
	}
	c := newConn(id, addr, s.cfg, s.clk, s.logger, s.stats, s, s, true)

	s.mu.Lock()
	s.active[id] = true
	s.byID[id] = c
	s.mu.Unlock()

	if err := c.dial(); err != nil {
		s.connClosed(c)
		return nil, err
	}

	s.mu.Lock()
	delete(s.byID, id)
	s.byAddrID[addrID{addr: addr.String(), id: id}] = c
	s.mu.Unlock()

	return newStream(c), nil
}

// Accept blocks until a passive connection has completed enough of the
// handshake to be handed to the caller (spec §4.5 step 5).
func (s *Socket) Accept() (*Stream, error) {
	select {
	case c := <-s.acceptCh:
		return newStream(c), nil
	case <-s.done:
		return nil, ErrClosed
	}
}

// Close shuts down the socket and every Connection it owns.
func (s *Socket) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.pc.Close()
	s.wg.Wait()

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.byID)+len(s.byAddrID))
	for _, c := range s.byID {
		conns = append(conns, c)
	}
	for _, c := range s.byAddrID {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	return err
}

// nextConnID generates a fresh connection id uniformly at random in
// [0x0001, 0xFFFE], rejecting ids already active (spec §4.5, seed case 8).
func (s *Socket) nextConnID() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < idGenRetries; i++ {
		id := uint16(minConnID + s.rng.Intn(maxConnID-minConnID+1))
		if !s.active[id] {
			return id, nil
		}
	}
	return 0, ErrNoFreeId
}

func (s *Socket) serve() {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log().Infow("socket read error, exiting demux loop", "error", err)
				return
			}
		}
		raw := append([]byte(nil), buf[:n]...)
		s.stats.Counter("utp.bytes_in").Inc(int64(n))
		s.dispatch(addr, raw)
	}
}

// dispatch implements the 7-step inbound decision tree of spec §4.5.
func (s *Socket) dispatch(addr net.Addr, raw []byte) {
	p, err := decodePacket(raw)
	if p == nil {
		s.log().Debugw("dropping undecodable datagram", "error", err, "from", addr)
		return
	}
	if err != nil {
		s.log().Debugw("malformed extension chain, delivering packet anyway", "error", err, "from", addr)
	}

	id := p.header.connID
	key := addrID{addr: addr.String(), id: id}

	s.mu.Lock()
	if c, ok := s.byAddrID[key]; ok {
		s.mu.Unlock()
		c.deliver(p)
		return
	}
	if c, ok := s.byID[id]; ok {
		delete(s.byID, id)
		s.byAddrID[addrID{addr: addr.String(), id: id}] = c
		s.mu.Unlock()
		c.deliver(p)
		return
	}
	if p.header.typ == typeSyn {
		// spec §4.5 step 5/6: this implementation's single-id model (see
		// Conn.connID) means the passive side adopts the SYN's own id
		// rather than minting a second one. If that id is already active
		// locally (e.g. in use with a different peer), it is a genuine
		// collision: drop and let the remote's SYN retry pick a fresh
		// random id.
		if s.active[id] {
			s.mu.Unlock()
			s.log().Warnw("connection id collision on inbound SYN, dropping", "id", id, "from", addr)
			return
		}
		s.active[id] = true
		c := newConn(id, addr, s.cfg, s.clk, s.logger, s.stats, s, s, false)
		s.byAddrID[addrID{addr: addr.String(), id: id}] = c
		s.mu.Unlock()

		if err := c.acceptPassive(p); err != nil {
			s.log().Warnw("failed to accept inbound connection", "error", err)
			return
		}
		select {
		case s.acceptCh <- c:
		default:
			s.log().Warnw("accept backlog full, dropping inbound connection")
		}
		return
	}
	if s.active[id] {
		s.mu.Unlock()
		s.log().Warnw("connection id collision, dropping datagram", "id", id, "from", addr)
		return
	}
	s.mu.Unlock()
	// Stale packet for an id we don't recognize at all: drop silently.
}

// connClosed implements Events: it unregisters c from every table.
func (s *Socket) connClosed(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, c.connID)
	delete(s.byID, c.connID)
	delete(s.byAddrID, addrID{addr: c.remoteAddr.String(), id: c.connID})
}

func (s *Socket) log() *zap.SugaredLogger {
	return s.logger
}

var _ fmt.Stringer = (*Conn)(nil)
