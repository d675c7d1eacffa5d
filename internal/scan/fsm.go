package scan

import "fmt"

// State of the scan session.
type State int

const (
	// Idle: no camera stream.
	Idle State = iota
	// Starting: stream requested, not yet delivering frames.
	Starting
	// Scanning: decode loop active.
	Scanning
	// Paused: stream live, decode loop stopped pending operator resume.
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Scanning:
		return "scanning"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// event drives the state machine.
type event int

const (
	evStart event = iota
	evStreamReady
	evStreamFailed
	evDetected
	evResume
	evStop
)

func (e event) String() string {
	switch e {
	case evStart:
		return "start"
	case evStreamReady:
		return "stream-ready"
	case evStreamFailed:
		return "stream-failed"
	case evDetected:
		return "detected"
	case evResume:
		return "resume"
	case evStop:
		return "stop"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// transition is the pure (state, event) -> state function. It carries no
// side effects; the session performs those after a legal transition.
func transition(s State, e event) (State, error) {
	switch e {
	case evStart:
		if s != Idle {
			return s, fmt.Errorf("cannot start from %s", s)
		}
		return Starting, nil
	case evStreamReady:
		if s != Starting {
			return s, fmt.Errorf("unexpected stream from %s", s)
		}
		return Scanning, nil
	case evStreamFailed:
		return Idle, nil
	case evDetected:
		if s != Scanning {
			return s, fmt.Errorf("detection outside scanning (%s)", s)
		}
		return Paused, nil
	case evResume:
		if s != Paused {
			return s, fmt.Errorf("cannot resume from %s", s)
		}
		return Scanning, nil
	case evStop:
		// Stop is legal from every state, including mid-capture.
		return Idle, nil
	}
	return s, fmt.Errorf("unknown event %s", e)
}
