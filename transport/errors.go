package transport

import "fmt"

// ProtocolError reports malformed HTTP framing on the wire: a bad
// status line, an unparseable header, or an invalid chunk header.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http protocol: %s: %v", e.Msg, e.Err)
	}
	return "http protocol: " + e.Msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
