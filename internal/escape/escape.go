// escape.go implements the scanner for the two-character escape commands
// typed on the local side of the session.
package escape

// Kind specifies what the relay should do with the byte(s) just scanned.
type Kind int

const (
	Forward   Kind = iota // forward Action.Bytes to the remote device
	Suppress              // swallow the byte, it may start an escape command
	Terminate             // end the session, nothing is forwarded
)

// Action is the scanner's decision for a single locally-typed byte. A
// Forward action can carry up to two bytes: a held-back tilde is released
// together with the byte that disqualified it as a command.
type Action struct {
	Kind  Kind
	Bytes []byte
}

type state int

const (
	idle  state = iota
	armed       // the previous byte ended a line, a '~' may start a command
	tilde       // '~' seen while armed, the next byte selects the command
)

// Scanner recognizes escape commands in the local byte stream. A command
// is two characters typed directly after Enter: `~~` sends a literal
// tilde, `~.` terminates the session. Anything else after a `~` is not a
// command and passes through untouched.
type Scanner struct {
	state state
}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed advances the scanner by one byte and returns the resulting action.
// It performs no I/O and is deterministic in (state, byte).
func (s *Scanner) Feed(b byte) Action {
	switch s.state {
	case tilde:
		s.state = idle
		switch b {
		case '~':
			return Action{Kind: Forward, Bytes: []byte{'~'}}
		case '.':
			return Action{Kind: Terminate}
		default:
			// Not a command after all. Release the held-back tilde and
			// treat the byte as if it had been typed on its own.
			action := s.scanPlain(b)
			action.Bytes = append([]byte{'~'}, action.Bytes...)
			return action
		}
	case armed:
		if b == '~' {
			s.state = tilde
			return Action{Kind: Suppress}
		}
		return s.scanPlain(b)
	default:
		return s.scanPlain(b)
	}
}

// scanPlain forwards a byte that cannot be part of an escape command.
// Line terminators re-arm the scanner, so pressing Enter repeatedly keeps
// escape recognition available.
func (s *Scanner) scanPlain(b byte) Action {
	if b == '\r' || b == '\n' {
		s.state = armed
	} else {
		s.state = idle
	}
	return Action{Kind: Forward, Bytes: []byte{b}}
}
