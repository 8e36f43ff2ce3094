package models

import "time"

// SourceRequest selects an image by reference instead of a multipart upload
type SourceRequest struct {
	Source string `json:"source" binding:"required"`
}

// AlgorithmRequest changes the selected algorithm of a session
type AlgorithmRequest struct {
	Algorithm string       `json:"algorithm" binding:"required"`
	Canny     *CannyParams `json:"canny,omitempty"`
}

// KernelRequest changes the selected kernel size of a session
type KernelRequest struct {
	KernelSize int `json:"kernel_size" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SessionResponse is the externally visible state of a session
type SessionResponse struct {
	SessionID  string        `json:"session_id"`
	Status     Status        `json:"status"`
	Images     UploadedImage `json:"images"`
	Filename   string        `json:"filename,omitempty"`
	Algorithm  Algorithm     `json:"algorithm"`
	KernelSize int           `json:"kernel_size"`
	Seq        uint64        `json:"seq"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Message    string        `json:"message,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// SaveResponse reports where a processed image was stored
type SaveResponse struct {
	Location string `json:"location"`
	Filename string `json:"filename"`
}
