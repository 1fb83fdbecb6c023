package reading

// Policy decides whether the user may jump from current back to target.
type Policy interface {
	CanNavigateTo(target, current Phase) bool
}

// BackwardOnly allows any strictly earlier phase. Forward movement is never
// a navigation: it only happens through the session's driven transitions.
type BackwardOnly struct{}

func (BackwardOnly) CanNavigateTo(target, current Phase) bool {
	return target.Order() < current.Order()
}

// LockFunc reports whether a phase has been locked by the host.
type LockFunc func(Phase) bool

type lockedPolicy struct {
	base   Policy
	locked LockFunc
}

// WithLock layers a lock predicate over base: locked targets are refused
// even when base would allow them.
func WithLock(base Policy, locked LockFunc) Policy {
	if locked == nil {
		return base
	}
	return lockedPolicy{base: base, locked: locked}
}

func (p lockedPolicy) CanNavigateTo(target, current Phase) bool {
	if p.locked(target) {
		return false
	}
	return p.base.CanNavigateTo(target, current)
}

// CreditLock locks the question step once credits were spent: asking a new
// question must cost a new reading.
func CreditLock(creditsSpent bool) LockFunc {
	return func(p Phase) bool {
		return creditsSpent && p == PhaseIntro
	}
}

// CanNavigateTo is the default policy with the credit lock applied.
func CanNavigateTo(target, current Phase, creditsSpent bool) bool {
	return WithLock(BackwardOnly{}, CreditLock(creditsSpent)).CanNavigateTo(target, current)
}
