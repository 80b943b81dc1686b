// Package flow coordinates the popup-based login operation: it opens the
// authorization window, awaits the cross-window callback message, and drives
// the code exchange to a single terminal outcome.
package flow

import "time"

// MessageTypeAuthResponse is the only message type the orchestrator accepts
// across the window boundary.
const MessageTypeAuthResponse = "auth-response"

// Message statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Message is the cross-window callback contract. Query carries the raw
// callback query string (code, state, or error/error_description).
type Message struct {
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	Query            string    `json:"query,omitempty"`
	Error            string    `json:"error,omitempty"`
	ErrorDescription string    `json:"error_description,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Popup abstracts the authorization window. Implementations open the
// provider URL in a separate window or process and report when the user has
// closed it.
type Popup interface {
	Open(url string) error
	Closed() bool
	Close()
}

// PopupClosedError reports that the user closed the authorization window
// before completing the flow. A distinct, non-alarming outcome, never
// conflated with a provider error.
type PopupClosedError struct{}

func (e *PopupClosedError) Error() string {
	return "authorization window was closed before completion"
}
