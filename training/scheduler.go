package training

// LRScheduler defines the interface for step-based learning rate schedules.
// Schedulers are pure functions of the global step so the trainer can replay
// or resume them without hidden state.
type LRScheduler interface {
	// GetLR returns the learning rate for the given global step
	GetLR(step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// LinearWarmupDecayScheduler ramps the learning rate linearly from zero to
// the base rate over the warmup steps, then decays it linearly back to zero
// at the final step.
type LinearWarmupDecayScheduler struct {
	WarmupSteps int
	TotalSteps  int
}

// NewLinearWarmupDecayScheduler creates a warmup-then-decay schedule sized to
// the full training run.
func NewLinearWarmupDecayScheduler(warmupSteps, totalSteps int) *LinearWarmupDecayScheduler {
	if totalSteps <= 0 {
		totalSteps = 1
	}
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if warmupSteps > totalSteps {
		warmupSteps = totalSteps
	}
	return &LinearWarmupDecayScheduler{
		WarmupSteps: warmupSteps,
		TotalSteps:  totalSteps,
	}
}

func (s *LinearWarmupDecayScheduler) GetLR(step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		return baseLR * float64(step) / float64(s.WarmupSteps)
	}
	if step >= s.TotalSteps {
		return 0
	}
	remaining := float64(s.TotalSteps-step) / float64(s.TotalSteps-s.WarmupSteps)
	return baseLR * remaining
}

func (s *LinearWarmupDecayScheduler) GetName() string {
	return "LinearWarmupDecay"
}

// ConstantLRScheduler keeps the base learning rate for every step.
type ConstantLRScheduler struct{}

func NewConstantLRScheduler() *ConstantLRScheduler {
	return &ConstantLRScheduler{}
}

func (s *ConstantLRScheduler) GetLR(step int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLRScheduler) GetName() string {
	return "ConstantLR"
}
