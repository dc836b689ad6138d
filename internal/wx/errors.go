package wx

import "errors"

var (
	// ErrSessionInvalid reports that the remote no longer accepts the session
	// credentials. It is terminal: the session has to be re-established outside
	// this process.
	ErrSessionInvalid = errors.New("wx: session invalidated")

	// ErrMalformedRecord is returned by the parsers when a raw record lacks a
	// required field.
	ErrMalformedRecord = errors.New("wx: malformed record")
)

// Return codes the web endpoints use for a logged-out or kicked session.
func isSessionRet(ret int64) bool {
	switch ret {
	case 1100, 1101, 1102:
		return true
	}
	return false
}
