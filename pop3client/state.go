package pop3client

import (
	"fmt"
)

// State is the state of a POP3 session, see RFC 1939 section 3.
type State int

const (
	StateBegin         State = iota // Connected, greeting not yet read.
	StateAuthorization              // Greeting read, not yet authenticated.
	StateTransaction                // Authenticated, mailbox commands can be sent.
	StateUpdate                     // After QUIT. Not reachable with the commands implemented in this package.
)

func (s State) String() string {
	switch s {
	case StateBegin:
		return "BEGIN"
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateTransaction:
		return "TRANSACTION"
	case StateUpdate:
		return "UPDATE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type event string

const (
	eventGreeting event = "greeting"
	eventLogin    event = "login"
	eventCommand  event = "command" // A mailbox command like STAT or LIST.
)

// transition returns the state after ev happened in state s. Transitions only go
// forward. An error of kind ErrInvalidState is returned for any other
// combination.
func transition(s State, ev event) (State, error) {
	switch {
	case s == StateBegin && ev == eventGreeting:
		return StateAuthorization, nil
	case s == StateAuthorization && ev == eventLogin:
		return StateTransaction, nil
	case s == StateTransaction && ev == eventCommand:
		return StateTransaction, nil
	}
	return s, Error{Kind: ErrInvalidState, Err: fmt.Errorf("%s not allowed in state %s", ev, s)}
}
