package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/logger"
	"go-image-filter/pkg/models"
)

// maxResponseBytes bounds the JSON body read from the backend
const maxResponseBytes = 64 << 20

// ImageProcessor sends images to the backend for filtering
type ImageProcessor interface {
	Process(ctx context.Context, req models.ProcessingRequest) (*models.RawResponse, error)
}

// Client talks to the processing backend over HTTP
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL. A zero timeout leaves calls unbounded
// apart from the caller's context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// NewClientWithHTTP creates a client using a caller supplied http.Client
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  httpClient,
	}
}

// BaseURL returns the configured backend address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Process performs exactly one POST {baseURL}/process. Any 2xx yields the decoded body;
// network failures and other statuses yield a transport AppError wrapping the cause.
func (c *Client) Process(ctx context.Context, req models.ProcessingRequest) (*models.RawResponse, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", body)
	if err != nil {
		return nil, apperrors.NewInternalError("invalid backend URL", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewTimeoutError("backend request cancelled", err)
		}
		return nil, apperrors.NewTransportError(fmt.Sprintf("backend request failed: %v", err), 0, err)
	}
	defer resp.Body.Close()

	var decoded models.RawResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded)

	logger.WithFields(logrus.Fields{
		"algorithm":   req.Algorithm,
		"kernel_size": req.KernelSize,
		"seq":         req.Seq,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Backend responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cause := fmt.Errorf("backend status %d", resp.StatusCode)
		if decodeErr == nil && decoded.Error != "" {
			cause = fmt.Errorf("backend status %d: %s", resp.StatusCode, decoded.Error)
		}
		return nil, apperrors.NewTransportError(cause.Error(), resp.StatusCode, cause)
	}
	if decodeErr != nil {
		// a 2xx without a JSON body is still a response; the caller sees no processed image
		logger.WithError(decodeErr).WithField("seq", req.Seq).Warn("Backend returned a non-JSON body")
		return &models.RawResponse{}, nil
	}

	return &decoded, nil
}

// Algorithms lists the algorithms the backend supports
func (c *Client) Algorithms(ctx context.Context) (*models.AlgorithmList, error) {
	var list models.AlgorithmList
	if err := c.getJSON(ctx, "/", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// AlgorithmInfo describes a single backend algorithm and its parameters
func (c *Client) AlgorithmInfo(ctx context.Context, name string) (*models.AlgorithmInfo, error) {
	var info models.AlgorithmInfo
	if err := c.getJSON(ctx, "/algorithms/"+name, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health queries the backend health endpoint
func (c *Client) Health(ctx context.Context) (*models.HealthStatus, error) {
	var health models.HealthStatus
	if err := c.getJSON(ctx, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperrors.NewInternalError("invalid backend URL", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewTransportError("backend request failed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s not found on backend", path), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewTransportError(fmt.Sprintf("backend status %d", resp.StatusCode), resp.StatusCode, nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return apperrors.NewTransportError("invalid backend response body", resp.StatusCode, err)
	}
	return nil
}

// encodeForm builds the multipart body with fields image, algorithm and kernel_size
func encodeForm(req models.ProcessingRequest) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := req.Filename
	if filename == "" {
		filename = "upload" + mimetype.Detect(req.Image).Extension()
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", mimetype.Detect(req.Image).String())

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"algorithm", string(req.Algorithm)},
		{"kernel_size", strconv.Itoa(req.KernelSize)},
	}
	if req.Canny != nil {
		if req.Canny.Sigma > 0 {
			fields = append(fields, [2]string{"sigma", strconv.FormatFloat(req.Canny.Sigma, 'f', -1, 64)})
		}
		if req.Canny.LowThreshold > 0 {
			fields = append(fields, [2]string{"low_threshold", strconv.Itoa(req.Canny.LowThreshold)})
		}
		if req.Canny.HighThreshold > 0 {
			fields = append(fields, [2]string{"high_threshold", strconv.Itoa(req.Canny.HighThreshold)})
		}
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
