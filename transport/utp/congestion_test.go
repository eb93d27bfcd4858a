package utp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testCfg() Config {
	return Config{}.applyDefaults()
}

func TestCongestionWindowFloor(t *testing.T) {
	c := newCongestion(testCfg())
	// Hammer it with loss events; the window must never drop below
	// MinWindowPackets * MaxSegmentSize.
	for i := 0; i < 50; i++ {
		c.onLoss()
	}
	floor := float64(c.cfg.MinWindowPackets * c.cfg.MaxSegmentSize)
	assert.GreaterOrEqual(t, c.window, floor)
}

func TestCongestionWindowCeiling(t *testing.T) {
	c := newCongestion(testCfg())
	now := time.Unix(0, 0)
	for i := 0; i < 10000; i++ {
		c.onAck(now, 0, 50*time.Millisecond)
		now = now.Add(time.Second)
	}
	assert.LessOrEqual(t, c.window, float64(c.cfg.MaxWindowBytes))
}

func TestCongestionGrowsWhenUnderTarget(t *testing.T) {
	c := newCongestion(testCfg())
	before := c.window
	c.onAck(time.Unix(0, 0), 0, 50*time.Millisecond)
	assert.Equal(t, before+float64(c.maxSegmentSize), c.window)
}

func TestCongestionShrinksWhenOverTarget(t *testing.T) {
	c := newCongestion(testCfg())
	c.window = float64(c.cfg.MaxWindowBytes) / 2
	before := c.window
	target := c.targetDelay(50 * time.Millisecond)
	c.onAck(time.Unix(0, 0), target+time.Millisecond, 50*time.Millisecond)
	assert.InDelta(t, before*0.8, c.window, 1)
}

func TestCongestionHoldsAtTarget(t *testing.T) {
	c := newCongestion(testCfg())
	before := c.window
	target := c.targetDelay(50 * time.Millisecond)
	c.onAck(time.Unix(0, 0), target, 50*time.Millisecond)
	assert.Equal(t, before, c.window)
}

func TestCongestionShrinksOnLoss(t *testing.T) {
	c := newCongestion(testCfg())
	c.window = float64(c.cfg.MaxWindowBytes) / 2
	before := c.window
	c.onLoss()
	assert.InDelta(t, before*0.8, c.window, 1)
}

func TestCongestionECNActsLikeLoss(t *testing.T) {
	c := newCongestion(testCfg())
	c.window = float64(c.cfg.MaxWindowBytes) / 2
	before := c.window
	c.onECNCongestionExperienced()
	assert.InDelta(t, before*0.8, c.window, 1)
}

func TestCongestionRateThrottledTo100ms(t *testing.T) {
	c := newCongestion(testCfg())
	now := time.Unix(0, 0)
	c.adjustRate(now, 0, c.cfg.targetDelay())
	rateAfterFirst := c.rateBps

	// A second adjustment within the same 100ms window must be a no-op.
	c.adjustRate(now.Add(50*time.Millisecond), 0, c.cfg.targetDelay())
	assert.Equal(t, rateAfterFirst, c.rateBps)

	// After 100ms has elapsed, the rate can move again.
	c.adjustRate(now.Add(150*time.Millisecond), 0, c.cfg.targetDelay())
	assert.Greater(t, c.rateBps, rateAfterFirst)
}

func TestCongestionRateDecreasesWhenDelayHigh(t *testing.T) {
	c := newCongestion(testCfg())
	c.rateBps = 1000
	c.adjustRate(time.Unix(0, 0), 2*c.cfg.targetDelay(), c.cfg.targetDelay())
	assert.InDelta(t, 800, c.rateBps, 1)
}

func TestTargetDelayClampsToSRTT(t *testing.T) {
	c := newCongestion(testCfg())
	got := c.targetDelay(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, got)

	got = c.targetDelay(500 * time.Millisecond)
	assert.Equal(t, c.cfg.targetDelay(), got)
}
