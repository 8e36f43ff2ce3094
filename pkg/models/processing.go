package models

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Algorithm identifies a filter implemented by the processing backend
type Algorithm string

const (
	AlgorithmNone   Algorithm = ""
	AlgorithmMedian Algorithm = "median"
	AlgorithmCanny  Algorithm = "canny"
)

// ParseAlgorithm converts a form/query value into a known algorithm
func ParseAlgorithm(value string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(value))) {
	case AlgorithmMedian:
		return AlgorithmMedian, nil
	case AlgorithmCanny:
		return AlgorithmCanny, nil
	default:
		return AlgorithmNone, fmt.Errorf("unsupported algorithm %q", value)
	}
}

// Valid reports whether a is one of the supported algorithms
func (a Algorithm) Valid() bool {
	return a == AlgorithmMedian || a == AlgorithmCanny
}

// DefaultKernelSize is the kernel size a fresh or reset session starts with
const DefaultKernelSize = 3

// KernelSizes lists the kernel sizes offered to the user
var KernelSizes = []int{3, 5, 7, 9}

// ValidKernelSize reports whether size is one of KernelSizes
func ValidKernelSize(size int) bool {
	for _, k := range KernelSizes {
		if k == size {
			return true
		}
	}
	return false
}

// CannyParams are optional edge-detection tuning values.
// Zero fields are not transmitted and the backend defaults apply.
type CannyParams struct {
	Sigma         float64 `json:"sigma,omitempty" yaml:"sigma"`
	LowThreshold  int     `json:"low_threshold,omitempty" yaml:"low_threshold"`
	HighThreshold int     `json:"high_threshold,omitempty" yaml:"high_threshold"`
}

// ProcessingRequest is a single call to the backend.
// KernelSize only affects median but is always sent.
type ProcessingRequest struct {
	Image      []byte
	Filename   string
	Algorithm  Algorithm
	KernelSize int
	Canny      *CannyParams

	// Seq identifies the request within its session; later requests have larger values
	Seq uint64
}

// RawResponse is the decoded JSON body returned by POST /process
type RawResponse struct {
	ProcessedImage string         `json:"processed_image,omitempty"`
	Error          string         `json:"error,omitempty"`
	Status         string         `json:"status,omitempty"`
	Algorithm      string         `json:"algorithm,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// ErrorKind distinguishes why a processing call failed
type ErrorKind string

const (
	// ErrorKindTransport covers network failures and non-2xx responses
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindSemantic covers 2xx responses without a processed image
	ErrorKindSemantic ErrorKind = "semantic"
)

// DefaultMissingImageMessage is used when a 2xx body carries neither an image nor an error
const DefaultMissingImageMessage = "no processed image received"

// UnknownErrorMessage is used when a transport failure carries no message
const UnknownErrorMessage = "unknown"

// ProcessingResult is either Ok (Data set) or Err (Kind and Message set)
type ProcessingResult struct {
	OK      bool      `json:"ok"`
	Data    string    `json:"data,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Ok builds a successful result carrying the base64 payload
func Ok(data string) ProcessingResult {
	return ProcessingResult{OK: true, Data: data}
}

// Err builds a failed result
func Err(kind ErrorKind, message string) ProcessingResult {
	return ProcessingResult{Kind: kind, Message: message}
}

// Status drives which controls are usable
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// UploadedImage holds the preview reference and the processed data URI.
// Empty strings mean "not set".
type UploadedImage struct {
	Original  string `json:"original"`
	Processed string `json:"processed"`
}

const dataURIPrefix = "data:image/jpeg;base64,"

// DataURI prefixes a base64 JPEG payload so it can be used as an image source
func DataURI(payload string) string {
	return dataURIPrefix + payload
}

// DecodeDataURI returns the JPEG bytes of a URI produced by DataURI
func DecodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return nil, fmt.Errorf("not a jpeg data URI")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, dataURIPrefix))
}

// DownloadFilename names a saved result, e.g. processed_median_kernel5x5_2024-01-02T03-04-05.jpg.
// Kernel information is only included for median.
func DownloadFilename(algorithm Algorithm, kernelSize int, at time.Time) string {
	timestamp := strings.ReplaceAll(at.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	name := strings.ReplaceAll(string(algorithm), "_", "-")
	kernelInfo := ""
	if algorithm == AlgorithmMedian {
		kernelInfo = fmt.Sprintf("_kernel%dx%d", kernelSize, kernelSize)
	}
	return fmt.Sprintf("processed_%s%s_%s.jpg", name, kernelInfo, timestamp)
}

// AlgorithmInfo describes a backend algorithm as reported by GET /algorithms/{name}
type AlgorithmInfo struct {
	Algorithm   string         `json:"algorithm"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Status      string         `json:"status,omitempty"`
}

// AlgorithmList is the body returned by GET / on the backend
type AlgorithmList struct {
	Message    string            `json:"message,omitempty"`
	Algorithms map[string]string `json:"algorithms"`
	Status     string            `json:"status,omitempty"`
}

// HealthStatus is the body returned by GET /health on the backend
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
