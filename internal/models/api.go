package models

import "fmt"

// API response status values.
const (
	APIStatusOK    = "ok"
	APIStatusError = "error"
)

// APIResponse is the envelope for every status API reply.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage creates a successful API response with a message and
// optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}

// ParseRingerMode parses the wire representation of a ringer mode.
func ParseRingerMode(s string) (RingerMode, error) {
	switch s {
	case "normal":
		return RingerNormal, nil
	case "vibrate":
		return RingerVibrate, nil
	case "silent":
		return RingerSilent, nil
	default:
		return RingerNormal, fmt.Errorf("unknown ringer mode %q", s)
	}
}
