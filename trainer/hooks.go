package trainer

// Schedule describes the learning-rate schedule for a training run: linear
// warm-up to the base rate, then linear decay to zero.
type Schedule struct {
	WarmupSteps int
	TotalSteps  int
}

// LRScale returns the learning-rate multiplier for a 1-based step number.
func (s Schedule) LRScale(step int) float64 {
	if s.WarmupSteps > 0 && step <= s.WarmupSteps {
		return float64(step) / float64(s.WarmupSteps)
	}
	if s.TotalSteps <= s.WarmupSteps {
		return 1
	}
	remaining := float64(s.TotalSteps - step)
	span := float64(s.TotalSteps - s.WarmupSteps)
	if remaining < 0 {
		return 0
	}
	return remaining / span
}

// Hooks is the plugin interface the trainer calls at defined lifecycle
// stages. Implementations override individual extension points; the zero
// behavior for each is supplied by DefaultHooks.
type Hooks interface {
	// OnSave runs after a checkpoint directory has been written.
	OnSave(dir string) error

	// ProvideTrainIterator supplies the epoch's examples. A nil slice means
	// the trainer uses its configured dataset.
	ProvideTrainIterator() ([]Example, error)

	// ConfigureSchedule builds the learning-rate schedule for the run.
	ConfigureSchedule(totalSteps int) Schedule
}

// DefaultHooks implements Hooks with the standard behavior. Embed it to
// override a single extension point.
type DefaultHooks struct {
	Args Args
}

// OnSave does nothing.
func (DefaultHooks) OnSave(dir string) error {
	return nil
}

// ProvideTrainIterator defers to the trainer's configured dataset.
func (DefaultHooks) ProvideTrainIterator() ([]Example, error) {
	return nil, nil
}

// ConfigureSchedule derives warm-up steps from the configured ratio when one
// is set, otherwise uses the absolute step count.
func (h DefaultHooks) ConfigureSchedule(totalSteps int) Schedule {
	warmup := h.Args.WarmupSteps
	if h.Args.WarmupRatio > 0 {
		warmup = int(float64(totalSteps) * h.Args.WarmupRatio)
	}
	return Schedule{WarmupSteps: warmup, TotalSteps: totalSteps}
}
