package reading

// Step is the derived status of one phase relative to the current phase.
type Step struct {
	Phase     Phase `json:"phase"`
	Completed bool  `json:"completed"`
	Current   bool  `json:"current"`
	Future    bool  `json:"future"`
	// Locked marks a completed phase the user can no longer return to.
	Locked    bool `json:"locked"`
	Clickable bool `json:"clickable"`
}

// BackAction is what the back control does: return to Phase, or leave the
// flow entirely when Exit is set.
type BackAction struct {
	Exit  bool  `json:"exit"`
	Phase Phase `json:"phase"`
}

// Stepper is the progress view of a reading.
type Stepper struct {
	Current Phase  `json:"current"`
	Steps   []Step `json:"steps"`
	// Segments[i] is the connector between Steps[i] and Steps[i+1].
	Segments []bool `json:"segments"`
}

// BuildStepper derives every step and segment from the current phase and
// the navigability policy.
func BuildStepper(current Phase, policy Policy) Stepper {
	phases := Phases()
	s := Stepper{
		Current:  current,
		Steps:    make([]Step, len(phases)),
		Segments: make([]bool, len(phases)-1),
	}
	for i, p := range phases {
		clickable := policy.CanNavigateTo(p, current)
		completed := p.Order() < current.Order()
		s.Steps[i] = Step{
			Phase:     p,
			Completed: completed,
			Current:   p.Order() == current.Order(),
			Future:    p.Order() > current.Order(),
			Locked:    completed && !clickable,
			Clickable: clickable,
		}
	}
	for i := range s.Segments {
		s.Segments[i] = s.Steps[i].Completed || s.Steps[i].Current
	}
	return s
}

// PreviousNavigable returns the nearest earlier clickable phase.
func (s Stepper) PreviousNavigable() (Phase, bool) {
	for i := s.Current.Order() - 1; i >= 0; i-- {
		if s.Steps[i].Clickable {
			return s.Steps[i].Phase, true
		}
	}
	return 0, false
}

// Back resolves the back control. With no navigable earlier step it exits
// the flow rather than doing nothing.
func (s Stepper) Back() BackAction {
	if p, ok := s.PreviousNavigable(); ok {
		return BackAction{Phase: p}
	}
	return BackAction{Exit: true}
}
