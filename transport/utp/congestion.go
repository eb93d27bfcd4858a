package utp

import "time"

// congestion implements uTP's LEDBAT window plus the secondary AIMD
// byte-rate estimator (spec §4.4). Both operate off the same one-way
// queuing-delay samples; LEDBAT governs how many bytes may be in flight.
// The rate estimate is tracked and exposed through rateLimit, but the send
// path does not consult it, so it does not pace outgoing packets.
type congestion struct {
	cfg Config

	maxSegmentSize int

	// LEDBAT window, in bytes.
	window float64

	// baseDelay and haveBase are not updated or read by onAck: the delay
	// sample it receives is compared with the target directly, with no
	// base-delay subtraction.
	baseDelay   time.Duration
	haveBase    bool
	lastRateAdj time.Time
	rateBps     float64
}

func newCongestion(cfg Config) *congestion {
	return &congestion{
		cfg:            cfg,
		maxSegmentSize: cfg.MaxSegmentSize,
		window:         float64(cfg.MinWindowPackets * cfg.MaxSegmentSize),
	}
}

// targetDelay returns D* = min(configured target, current SRTT), per spec
// §4.4.
func (c *congestion) targetDelay(srtt time.Duration) time.Duration {
	target := c.cfg.targetDelay()
	if srtt > 0 && srtt < target {
		return srtt
	}
	return target
}

// onAck updates the LEDBAT window and the AIMD rate estimate from a
// one-way queuing delay sample (Conn passes the peer's
// timestamp_difference_us as is; no base delay is subtracted).
func (c *congestion) onAck(now time.Time, queuingDelay time.Duration, srtt time.Duration) {
	if queuingDelay < 0 {
		queuingDelay = 0
	}

	target := c.targetDelay(srtt)
	if target <= 0 {
		target = time.Millisecond
	}

	// LEDBAT's window update is a discrete three-way rule, not a
	// continuous proportional gain (spec §4.4): below target, grow by one
	// MSS-sized step; above target, multiplicatively decay; at target,
	// hold.
	switch {
	case queuingDelay < target:
		c.window += float64(c.maxSegmentSize)
	case queuingDelay > target:
		c.window *= 0.8
	}
	c.clampWindow()

	c.adjustRate(now, queuingDelay, target)
}

func (c *congestion) clampWindow() {
	floor := float64(c.cfg.MinWindowPackets * c.maxSegmentSize)
	if c.window < floor {
		c.window = floor
	}
	if ceil := float64(c.cfg.MaxWindowBytes); c.window > ceil {
		c.window = ceil
	}
}

// adjustRate applies the secondary AIMD byte-rate estimator (spec §4.4):
// additive increase while comfortably under target, multiplicative
// decrease once delay exceeds 1.5x target, throttled to once per 100ms.
func (c *congestion) adjustRate(now time.Time, delay, target time.Duration) {
	if !c.lastRateAdj.IsZero() && now.Sub(c.lastRateAdj) < 100*time.Millisecond {
		return
	}
	c.lastRateAdj = now

	switch {
	case delay > target*3/2:
		c.rateBps *= 0.8
	case float64(delay) < 1.2*float64(target):
		c.rateBps += 150
	}
	if c.rateBps < 0 {
		c.rateBps = 0
	}
}

// onLoss applies LEDBAT's multiplicative decrease (spec §4.4): the window
// shrinks to 80% of its previous value, floored at 2 MSS.
func (c *congestion) onLoss() {
	c.window *= 0.8
	c.clampWindow()
}

// onECNCongestionExperienced reacts to a peer echoing ECN-CE the same way
// as a loss event (spec §4.1, §4.4): ECN lets LEDBAT react to queueing
// congestion before a packet is actually dropped.
func (c *congestion) onECNCongestionExperienced() {
	c.onLoss()
}

// windowBytes returns the current congestion window, in bytes.
func (c *congestion) windowBytes() uint32 {
	return uint32(c.window)
}

// rateLimit returns the current AIMD-estimated send rate in bytes/sec, or
// 0 if unthrottled (no samples yet).
func (c *congestion) rateLimit() float64 {
	return c.rateBps
}
