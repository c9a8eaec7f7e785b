package loader

// State tracks an image through the load pipeline. Transitions are
// strictly forward; a failure at any stage moves to State_Failed and
// releases everything acquired so far.
type State int

const (
	State_Parsed State = iota
	State_Mapped
	State_Relocated
	State_Patched
	State_Running
	State_Exited
	State_Failed
)

func (s State) String() string {
	switch s {
	case State_Parsed:
		return "Parsed"
	case State_Mapped:
		return "Mapped"
	case State_Relocated:
		return "Relocated"
	case State_Patched:
		return "Patched"
	case State_Running:
		return "Running"
	case State_Exited:
		return "Exited"
	case State_Failed:
		return "Failed"
	}
	return "Unknown"
}
