package utp

import (
	"time"

	"golang.org/x/time/rate"
)

// Config is the configuration for an individual uTP connection (spec §4.3,
// §4.4). Grounded on kraken's lib/torrent/scheduler/conn.Config: sized
// buffers and timeouts live here, tagged for YAML configuration loading,
// with a conservative applyDefaults.
type Config struct {
	// MinRTOMillis and MaxRTOMillis bound the retransmission timeout
	// computed from the SRTT/RTTVAR EWMA (spec §4.3).
	MinRTOMillis int `yaml:"min_rto_millis"`
	MaxRTOMillis int `yaml:"max_rto_millis"`

	// DelayedAckMillis is the delayed-ACK timer duration (spec §4.3): an
	// ACK is sent immediately every other data packet, or when this timer
	// expires, whichever comes first.
	DelayedAckMillis int `yaml:"delayed_ack_millis"`

	// MaxRetransmits is the number of retransmission attempts for a single
	// packet before the connection fails with ErrMaxRetransmits.
	MaxRetransmits int `yaml:"max_retransmits"`

	// DupAckThreshold is the number of duplicate ACKs that trigger fast
	// retransmit (spec §4.3).
	DupAckThreshold int `yaml:"dup_ack_threshold"`

	// TargetDelayMillis is LEDBAT's target queueing delay D* before it is
	// clamped to the measured SRTT (spec §4.4).
	TargetDelayMillis int `yaml:"target_delay_millis"`

	// MinWindowPackets is the LEDBAT window floor, in multiples of the
	// maximum segment size (spec §4.4).
	MinWindowPackets int `yaml:"min_window_packets"`

	// MaxWindowBytes bounds the LEDBAT window.
	MaxWindowBytes uint32 `yaml:"max_window_bytes"`

	// MaxSegmentSize is the largest uTP payload per packet.
	MaxSegmentSize int `yaml:"max_segment_size"`

	// SendBufferSize sizes the channel of pending writes from a
	// Connection's stream facade to its event loop; ReceiveBufferSize sizes
	// the channel of inbound packets from the Socket to that loop and, times
	// MaxSegmentSize, the advertised receive window. This mirrors kraken's
	// sender/receiver channel sizing.
	SendBufferSize    int `yaml:"send_buffer_size"`
	ReceiveBufferSize int `yaml:"receive_buffer_size"`

	// IdleTimeout is loaded and defaulted with the rest of the config, but
	// no Connection consults it: an idle connection is not closed on a
	// timer.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// HandshakeTimeout bounds how long Dial waits for a SYN to be
	// acknowledged (spec §4.2).
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// WindowScaleShift is the local window scale factor advertised during
	// the handshake (spec §4.1's extension 2), 0-14.
	WindowScaleShift uint8 `yaml:"window_scale_shift"`

	// EnableECN controls whether the local endpoint sets the ECN
	// extension during the handshake (spec §4.1's extension 4).
	EnableECN bool `yaml:"enable_ecn"`

	// RateLimit, when non-zero, caps outbound bytes/sec across all
	// connections sharing a Socket via a token-bucket limiter, grounded on
	// kraken's utils/bandwidth.Limiter (golang.org/x/time/rate).
	RateLimit rate.Limit `yaml:"rate_limit"`
	RateBurst int        `yaml:"rate_burst"`
}

func (c Config) applyDefaults() Config {
	if c.MinRTOMillis == 0 {
		c.MinRTOMillis = 100
	}
	if c.MaxRTOMillis == 0 {
		c.MaxRTOMillis = 60000
	}
	if c.DelayedAckMillis == 0 {
		c.DelayedAckMillis = 40
	}
	if c.MaxRetransmits == 0 {
		c.MaxRetransmits = 10
	}
	if c.DupAckThreshold == 0 {
		c.DupAckThreshold = 3
	}
	if c.TargetDelayMillis == 0 {
		c.TargetDelayMillis = 100
	}
	if c.MinWindowPackets == 0 {
		c.MinWindowPackets = 2
	}
	if c.MaxWindowBytes == 0 {
		c.MaxWindowBytes = 1 << 20
	}
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = 1350
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = 1000
	}
	if c.ReceiveBufferSize == 0 {
		c.ReceiveBufferSize = 1000
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.RateBurst == 0 {
		c.RateBurst = c.MaxSegmentSize * 16
	}
	return c
}

func (c Config) minRTO() time.Duration {
	return time.Duration(c.MinRTOMillis) * time.Millisecond
}

func (c Config) maxRTO() time.Duration {
	return time.Duration(c.MaxRTOMillis) * time.Millisecond
}

func (c Config) delayedAck() time.Duration {
	return time.Duration(c.DelayedAckMillis) * time.Millisecond
}

func (c Config) targetDelay() time.Duration {
	return time.Duration(c.TargetDelayMillis) * time.Millisecond
}
