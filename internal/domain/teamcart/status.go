package teamcart

// Status is the lifecycle state of a TeamCart.
type Status string

const (
	StatusOpen           Status = "open"
	StatusLocked         Status = "locked"
	StatusFinalized      Status = "finalized"
	StatusReadyToConfirm Status = "ready_to_confirm"
	StatusConverted      Status = "converted"
	StatusExpired        Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConverted || s == StatusExpired
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusLocked, StatusFinalized, StatusReadyToConfirm, StatusConverted, StatusExpired:
		return true
	default:
		return false
	}
}

// NonTerminal lists the states an elapsed deadline can expire.
var NonTerminal = []Status{StatusOpen, StatusLocked, StatusFinalized, StatusReadyToConfirm}
