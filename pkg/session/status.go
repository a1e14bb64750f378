package session

import (
	"encoding/json"
	"fmt"
)

// Status is the session-wide connection state.
type Status int

const (
	StatusNone Status = iota
	StatusDisconnected
	StatusConnected
	StatusError
)

var statusNames = []string{"None", "Disconnected", "Connected", "Error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
