package converter

// EngineState is the process-wide initialization state of the conversion engine.
type EngineState int32

// Engine states. The only legal path is Uninitialized -> Initializing -> Ready|Failed.
const (
	StateUninitialized EngineState = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s EngineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
