package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduleLRScale(t *testing.T) {
	s := Schedule{WarmupSteps: 10, TotalSteps: 110}

	// Linear ramp up across warm-up.
	assert.InDelta(t, 0.1, s.LRScale(1), 1e-12)
	assert.InDelta(t, 0.5, s.LRScale(5), 1e-12)
	assert.InDelta(t, 1.0, s.LRScale(10), 1e-12)

	// Linear decay to zero after warm-up.
	assert.InDelta(t, 0.6, s.LRScale(50), 1e-12)
	assert.InDelta(t, 0.0, s.LRScale(110), 1e-12)

	// Never negative past the end.
	assert.Equal(t, 0.0, s.LRScale(200))
}

func TestScheduleNoWarmup(t *testing.T) {
	s := Schedule{WarmupSteps: 0, TotalSteps: 100}
	assert.InDelta(t, 0.99, s.LRScale(1), 1e-12)
	assert.InDelta(t, 0.0, s.LRScale(100), 1e-12)
}

func TestScheduleDegenerate(t *testing.T) {
	// Total not exceeding warm-up: constant scale after the ramp.
	s := Schedule{WarmupSteps: 10, TotalSteps: 10}
	assert.InDelta(t, 0.5, s.LRScale(5), 1e-12)
	assert.Equal(t, 1.0, s.LRScale(11))
}

func TestConfigureScheduleFromRatio(t *testing.T) {
	args := DefaultArgs()
	args.WarmupRatio = 0.1
	args.WarmupSteps = 999 // ratio wins when both are set

	s := DefaultHooks{Args: args}.ConfigureSchedule(1000)
	assert.Equal(t, 100, s.WarmupSteps)
	assert.Equal(t, 1000, s.TotalSteps)
}

func TestConfigureScheduleFromAbsoluteSteps(t *testing.T) {
	args := DefaultArgs()
	args.WarmupSteps = 25

	s := DefaultHooks{Args: args}.ConfigureSchedule(1000)
	assert.Equal(t, 25, s.WarmupSteps)
}
