package engine

// Phase is the step a reconciliation cycle is in.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseDiffing
	PhasePushing
	PhaseCommitting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseDiffing:
		return "diffing"
	case PhasePushing:
		return "pushing"
	case PhaseCommitting:
		return "committing"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
