package domain

import "time"

const (
	LogLevelInfo  = "info"
	LogLevelError = "error"

	ResultSuccess = "success"
	ResultError   = "error"
)

// LogEntry is the structured record written once per image request.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	RequestID  string    `json:"requestId,omitempty"`
	User       string    `json:"user,omitempty"`
	Endpoint   string    `json:"endpoint"`
	Params     any       `json:"params,omitempty"`
	DurationMS int64     `json:"durationMs"`
	Result     string    `json:"result"`
	Message    string    `json:"message,omitempty"`
}
