package transport

import (
	"encoding/json"

	"github.com/riseandspeak/backend/domain"
)

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// AuthResponse is the data payload of successful sign-in/sign-up calls.
type AuthResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// NewSuccess returns a success envelope.
func NewSuccess(data interface{}) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return Envelope{
		Status: "success",
		Data:   raw,
	}
}

// NewError returns an error envelope.
func NewError(code string, message string) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  message,
	}
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(out)
}
