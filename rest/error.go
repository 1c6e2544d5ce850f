// Interface for dealing with HTTP errors.
package rest

import "fmt"

// Error is the problem-detail body returned with every non-2xx API
// response, loosely following the HTTP Problem spec:
// https://tools.ietf.org/html/draft-ietf-appsawg-http-problem-03
type Error struct {
	// The main error message. Keep it short; do not end it with a period.
	Title string `json:"title"`

	// Machine-readable id of this error ("forbidden",
	// "invalid_parameter", &c). Clients switch on this, not on Title.
	ID string `json:"id"`

	// More information about what went wrong.
	Detail string `json:"detail,omitempty"`

	// Path to the resource that's in error.
	Instance string `json:"instance,omitempty"`

	// Link to documentation about the error.
	Type       string `json:"type,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (e *Error) Error() string {
	return e.Title
}

func (e *Error) String() string {
	if e.Detail != "" {
		return fmt.Sprintf("rest: %s. %s", e.Title, e.Detail)
	} else {
		return fmt.Sprintf("rest: %s", e.Title)
	}
}
