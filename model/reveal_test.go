package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testPrivacy = PrivacyParams{
	PrecisionScale:       1000,
	SmallSampleThreshold: 5,
	MaxScaleValue:        1000000,
	NoiseRange:           500,
}

func TestComputeObfuscatedAverageZeroCount(t *testing.T) {
	got := ComputeObfuscatedAverage(0, 0, "exh_1", 0, testPrivacy)
	assert.Equal(t, uint64(0), got)

	// A non-zero sum with zero count is equally meaningless.
	got = ComputeObfuscatedAverage(42, 0, "exh_1", 0, testPrivacy)
	assert.Equal(t, uint64(0), got)
}

func TestComputeObfuscatedAverageLargeSample(t *testing.T) {
	// count >= threshold: no noise, exact scaled division.
	got := ComputeObfuscatedAverage(85, 10, "exh_1", 7, testPrivacy)
	assert.Equal(t, uint64(8500), got)

	// Fractional precision survives the integer division.
	got = ComputeObfuscatedAverage(10, 3, "exh_1", 7, PrivacyParams{
		PrecisionScale:       1000,
		SmallSampleThreshold: 2,
		MaxScaleValue:        1000000,
		NoiseRange:           500,
	})
	assert.Equal(t, uint64(3333), got)
}

func TestComputeObfuscatedAverageSmallSampleNoise(t *testing.T) {
	base := uint64(9 * 1000 / 3)

	first := ComputeObfuscatedAverage(9, 3, "exh_thin", 1, testPrivacy)
	second := ComputeObfuscatedAverage(9, 3, "exh_thin", 1, testPrivacy)

	// Deterministic for a fixed (exhibition, nonce) pair.
	assert.Equal(t, first, second)

	// Offset is bounded by the noise range.
	offset := first - base
	assert.Less(t, offset, testPrivacy.NoiseRange)

	// Advancing the noise epoch changes the derivation.
	refreshed := ComputeObfuscatedAverage(9, 3, "exh_thin", 2, testPrivacy)
	assert.NotEqual(t, first, refreshed)

	// Different exhibitions get independent offsets.
	other := ComputeObfuscatedAverage(9, 3, "exh_other", 1, testPrivacy)
	assert.NotEqual(t, first, other)
}

func TestComputeObfuscatedAverageWraps(t *testing.T) {
	p := testPrivacy
	p.MaxScaleValue = 4 // tiny cap so base+noise must wrap

	got := ComputeObfuscatedAverage(100, 2, "exh_wrap", 3, p)
	assert.Less(t, got, p.MaxScaleValue*p.PrecisionScale)
}

func TestDecodeCleartexts(t *testing.T) {
	c, err := DecodeCleartexts([]byte(`{"count":10,"sum":85}`))
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), c.Count)
	assert.Equal(t, uint64(85), c.Sum)

	_, err = DecodeCleartexts(nil)
	assert.Error(t, err)

	_, err = DecodeCleartexts([]byte("not-json"))
	assert.Error(t, err)
}

func TestRevealRequestTimedOut(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	req := &RevealRequest{Status: StatusPending, CreatedAt: created}

	assert.False(t, req.TimedOut(created.Add(23*time.Hour+59*time.Minute), 24*time.Hour))
	assert.True(t, req.TimedOut(created.Add(24*time.Hour), 24*time.Hour))

	// Terminal requests never report timed out.
	req.Status = StatusCompleted
	assert.False(t, req.TimedOut(created.Add(48*time.Hour), 24*time.Hour))
}

func TestRevealRequestIsTerminal(t *testing.T) {
	req := &RevealRequest{Status: StatusPending}
	assert.False(t, req.IsTerminal())

	for _, status := range []string{StatusCompleted, StatusFailed, StatusTimedOut} {
		req.Status = status
		assert.True(t, req.IsTerminal())
	}
}

func TestRevealRequestWithinRefundWindow(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	req := &RevealRequest{Status: StatusTimedOut, CreatedAt: created}

	assert.True(t, req.WithinRefundWindow(created.Add(47*time.Hour), 48*time.Hour))
	assert.True(t, req.WithinRefundWindow(created.Add(48*time.Hour), 48*time.Hour))
	assert.False(t, req.WithinRefundWindow(created.Add(49*time.Hour), 48*time.Hour))
}
