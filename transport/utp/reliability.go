package utp

import (
	"sort"
	"time"
)

// sentPacket tracks one outstanding (unacknowledged) data packet.
type sentPacket struct {
	payload       []byte
	sentAt        time.Time
	retries       int
	retransmitted bool // Karn's rule: a retransmitted packet never yields an RTT sample
}

// reliability implements the send/receive buffers, delayed-ACK
// scheduling, retransmission, and RTT/RTO estimation described in spec
// §4.3. It holds no goroutines of its own; Connection drives it from its
// single-threaded event loop, matching the cooperative concurrency model
// in spec §5.
type reliability struct {
	cfg Config

	// --- send side ---
	sendBuf     map[seqNr]*sentPacket
	unackedBase seqNr // not maintained; the oldest unacked seq_nr is found by scanning sendBuf

	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	haveRTT bool

	lastAckNr seqNr
	dupAcks   int
	haveAck   bool

	// --- receive side ---
	recvBuf           map[seqNr][]byte
	ackNr             seqNr // last seq_nr received in order; our outbound ack_nr
	haveAckNr         bool
	sinceLastAck      int  // data packets received since the last ACK we sent
	ackTimerDeadline  time.Time
	ackTimerArmed     bool
}

func newReliability(cfg Config) *reliability {
	return &reliability{
		cfg:     cfg,
		sendBuf: make(map[seqNr]*sentPacket),
		recvBuf: make(map[seqNr][]byte),
		rto:     cfg.minRTO(),
	}
}

// --- send side ---

// onSend records a newly sent data packet for retransmission tracking.
func (r *reliability) onSend(seq seqNr, payload []byte, now time.Time) {
	r.sendBuf[seq] = &sentPacket{payload: payload, sentAt: now}
}

// onResend marks seq as retransmitted: per Karn's rule, its next ACK must
// not be used as an RTT sample, and its retry counter advances toward
// ErrMaxRetransmits.
func (r *reliability) onResend(seq seqNr, now time.Time) (retries int, ok bool) {
	sp, ok := r.sendBuf[seq]
	if !ok {
		return 0, false
	}
	sp.retries++
	sp.retransmitted = true
	sp.sentAt = now
	return sp.retries, true
}

// ackResult summarizes the effect of processing an inbound ACK.
type ackResult struct {
	ackedSeqs      []seqNr
	fastRetransmit bool // three duplicate ACKs observed
	rttSample      time.Duration
	haveRTT        bool
}

// onAck processes an incoming ack_nr plus optional SACK blocks, retiring
// acknowledged packets from the send buffer, detecting duplicate ACKs for
// fast retransmit (spec §4.3: three duplicates), and producing an RTT
// sample when the acked packet was never retransmitted (Karn's rule).
func (r *reliability) onAck(ackNr seqNr, sack *sackExtension, now time.Time) ackResult {
	var res ackResult

	isDup := r.haveAck && ackNr == r.lastAckNr && len(r.sendBuf) > 0
	if isDup {
		r.dupAcks++
	} else {
		r.dupAcks = 0
	}
	r.lastAckNr = ackNr
	r.haveAck = true

	acked := map[seqNr]bool{}
	for seq := range r.sendBuf {
		if isAcked(seq, ackNr) {
			acked[seq] = true
		}
	}
	if sack != nil {
		for _, b := range sack.blocks {
			for seq := b.start; seq != b.end; seq++ {
				if _, ok := r.sendBuf[seq]; ok {
					acked[seq] = true
				}
			}
		}
	}

	for seq := range acked {
		sp := r.sendBuf[seq]
		res.ackedSeqs = append(res.ackedSeqs, seq)
		if !sp.retransmitted && !res.haveRTT {
			// spec §4.3: measured_rtt = 2 x local_roundtrip when the send
			// timestamp is known locally.
			res.rttSample = 2 * now.Sub(sp.sentAt)
			res.haveRTT = true
		}
		delete(r.sendBuf, seq)
	}
	sort.Slice(res.ackedSeqs, func(i, j int) bool { return seqLess(res.ackedSeqs[i], res.ackedSeqs[j]) })

	if res.haveRTT {
		r.updateRTO(res.rttSample)
	}
	if r.dupAcks >= r.cfg.DupAckThreshold {
		res.fastRetransmit = true
		r.dupAcks = 0
	}
	return res
}

// updateRTO applies the standard EWMA RTT estimator (spec §4.3): SRTT with
// alpha=1/8, RTTVAR with beta=1/4, RTO clamped to [min, max].
func (r *reliability) updateRTO(sample time.Duration) {
	if !r.haveRTT {
		r.srtt = sample
		r.rttvar = sample / 2
		r.haveRTT = true
	} else {
		diff := r.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		r.rttvar = r.rttvar - r.rttvar/4 + diff/4
		r.srtt = r.srtt - r.srtt/8 + sample/8
	}
	rto := r.srtt + 4*r.rttvar
	r.rto = clampDuration(rto, r.cfg.minRTO(), r.cfg.maxRTO())
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// expired returns the seq_nrs of packets whose RTO has elapsed as of now,
// along with whether any of them has hit MaxRetransmits.
func (r *reliability) expired(now time.Time) (seqs []seqNr, exhausted bool) {
	for seq, sp := range r.sendBuf {
		if now.Sub(sp.sentAt) >= r.rto {
			if sp.retries >= r.cfg.MaxRetransmits {
				exhausted = true
			}
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqLess(seqs[i], seqs[j]) })
	return seqs, exhausted
}

// inFlightBytes returns the current number of unacknowledged bytes.
func (r *reliability) inFlightBytes() int {
	n := 0
	for _, sp := range r.sendBuf {
		n += len(sp.payload)
	}
	return n
}

func (r *reliability) hasOutstanding() bool {
	return len(r.sendBuf) > 0
}

// --- receive side ---

// onData buffers an inbound data packet's payload (or drops it if already
// seen) and returns every payload now deliverable in order, advancing
// ackNr past them.
func (r *reliability) onData(seq seqNr, payload []byte) (inOrder [][]byte, duplicate bool) {
	if r.haveAckNr && isAcked(seq, r.ackNr) {
		return nil, true
	}
	if _, exists := r.recvBuf[seq]; exists {
		return nil, true
	}
	r.recvBuf[seq] = payload
	r.sinceLastAck++

	if !r.haveAckNr {
		// First data packet of the connection always carries seq_nr=1
		// (spec §4.2); treat the packet immediately preceding it as
		// already "acked" so in-order delivery can proceed.
		r.ackNr = seq - 1
		r.haveAckNr = true
	}

	for {
		next := r.ackNr + 1
		data, ok := r.recvBuf[next]
		if !ok {
			break
		}
		inOrder = append(inOrder, data)
		delete(r.recvBuf, next)
		r.ackNr = next
	}
	return inOrder, false
}

// receivedSet returns the out-of-order sequence numbers currently
// buffered, for SACK synthesis.
func (r *reliability) receivedSet() map[seqNr]bool {
	out := make(map[seqNr]bool, len(r.recvBuf))
	for seq := range r.recvBuf {
		out[seq] = true
	}
	return out
}

// shouldAckNow implements the delayed-ACK policy (spec §4.3): send
// immediately every other data packet, or when the single-slot pending-ACK
// timer expires, whichever comes first.
func (r *reliability) shouldAckNow(now time.Time) bool {
	if r.sinceLastAck >= 2 {
		return true
	}
	if r.ackTimerArmed && !now.Before(r.ackTimerDeadline) {
		return true
	}
	return false
}

// armAckTimer starts the delayed-ACK timer if it is not already running.
func (r *reliability) armAckTimer(now time.Time) {
	if r.ackTimerArmed || r.sinceLastAck == 0 {
		return
	}
	r.ackTimerArmed = true
	r.ackTimerDeadline = now.Add(r.cfg.delayedAck())
}

// ackSent resets delayed-ACK bookkeeping once an ACK has gone out.
func (r *reliability) ackSent() {
	r.sinceLastAck = 0
	r.ackTimerArmed = false
}
