package supervisor

// Strategy selects how a restart is carried out.
type Strategy int

const (
	// ManagedSkipGraceful stops and respawns the owned child without asking the
	// backend to restart itself.
	ManagedSkipGraceful Strategy = iota
	// ManagedWithGracefulFallback asks the backend to restart in place and
	// respawns the owned child when that does not complete.
	ManagedWithGracefulFallback
	// UnmanagedWithGracefulProbe asks a backend this process does not own to
	// restart in place.
	UnmanagedWithGracefulProbe
)

func (s Strategy) String() string {
	switch s {
	case ManagedSkipGraceful:
		return "managed_skip_graceful"
	case ManagedWithGracefulFallback:
		return "managed_with_graceful_fallback"
	case UnmanagedWithGracefulProbe:
		return "unmanaged_with_graceful_probe"
	default:
		return "unknown"
	}
}

// hardRestartOS cannot reliably have a packaged child restart itself in place.
const hardRestartOS = "windows"

// ChooseStrategy derives the restart strategy from the platform, the plan's
// packaging mode and child ownership.
func ChooseStrategy(goos string, packaged, managed bool) Strategy {
	if goos == hardRestartOS && packaged && managed {
		return ManagedSkipGraceful
	}
	if managed {
		return ManagedWithGracefulFallback
	}
	return UnmanagedWithGracefulProbe
}

// OutcomeKind classifies one graceful restart attempt.
type OutcomeKind int

const (
	GracefulCompleted OutcomeKind = iota
	GracefulWaitFailed
	GracefulRequestRejected
)

// GracefulOutcome is the result of asking the backend to restart itself.
// Reason is set for GracefulWaitFailed.
type GracefulOutcome struct {
	Kind   OutcomeKind
	Reason string
}
