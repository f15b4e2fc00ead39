package utils

import "time"

// APIResponse is the envelope returned by the gin-served endpoints.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func newResponse(success bool, message string) APIResponse {
	return APIResponse{
		Success:   success,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func SuccessResponse(message string, data interface{}) APIResponse {
	resp := newResponse(true, message)
	resp.Data = data
	return resp
}

func ErrorResponse(message, errDetail string) APIResponse {
	resp := newResponse(false, message)
	resp.Error = errDetail
	return resp
}
