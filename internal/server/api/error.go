package api

import "fmt"

// Error is the wire shape of every non-2xx answer. The code values are shared
// with the client SDK so callers can switch on them.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error: code=%s, message=%s", e.Code, e.Message)
}
