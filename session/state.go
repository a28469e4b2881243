package session

// State is the session manager's view of the current session.
type State int

const (
	LoggedOut State = iota
	Authenticating
	Active
	Refreshing
	SwitchingAccount
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "LoggedOut"
	case Authenticating:
		return "Authenticating"
	case Active:
		return "Active"
	case Refreshing:
		return "Refreshing"
	case SwitchingAccount:
		return "SwitchingAccount"
	default:
		return "Unknown"
	}
}
