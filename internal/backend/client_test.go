package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/logger"
	"go-image-filter/pkg/models"
)

var jpegData = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

type receivedForm struct {
	fields      map[string]string
	filename    string
	contentType string
	image       []byte
}

// newBackend starts a gin stub of the processing backend
func newBackend(t *testing.T, status int, body string, got *receivedForm) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard)

	r := gin.New()
	r.POST("/process", func(c *gin.Context) {
		if got != nil {
			form, err := c.MultipartForm()
			if err != nil {
				t.Errorf("backend received invalid multipart body: %v", err)
			} else {
				got.fields = make(map[string]string)
				for k, v := range form.Value {
					got.fields[k] = v[0]
				}
				if files := form.File["image"]; len(files) == 1 {
					got.filename = files[0].Filename
					got.contentType = files[0].Header.Get("Content-Type")
					f, _ := files[0].Open()
					got.image, _ = io.ReadAll(f)
					f.Close()
				}
			}
		}
		c.Data(status, "application/json", []byte(body))
	})
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":    "Image Processing API",
			"algorithms": gin.H{"median": "Median filter", "canny": "Canny edge detection"},
			"status":     "running",
		})
	})
	r.GET("/algorithms/:name", func(c *gin.Context) {
		if c.Param("name") != "median" {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown algorithm"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"algorithm":   "median",
			"description": "Median filter",
			"parameters":  gin.H{"kernel_size": gin.H{"min": 3, "max": 15}},
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestClient_ProcessSendsForm(t *testing.T) {
	tests := []struct {
		name       string
		req        models.ProcessingRequest
		wantFields map[string]string
		wantName   string
	}{
		{
			name:       "median with kernel",
			req:        models.ProcessingRequest{Image: jpegData, Filename: "cat.jpg", Algorithm: models.AlgorithmMedian, KernelSize: 5},
			wantFields: map[string]string{"algorithm": "median", "kernel_size": "5"},
			wantName:   "cat.jpg",
		},
		{
			name: "canny with parameters",
			req: models.ProcessingRequest{
				Image:      jpegData,
				Algorithm:  models.AlgorithmCanny,
				KernelSize: 3,
				Canny:      &models.CannyParams{Sigma: 1.5, LowThreshold: 50, HighThreshold: 150},
			},
			wantFields: map[string]string{
				"algorithm": "canny", "kernel_size": "3",
				"sigma": "1.5", "low_threshold": "50", "high_threshold": "150",
			},
			wantName: "upload.jpg",
		},
		{
			name:       "canny zero parameters are omitted",
			req:        models.ProcessingRequest{Image: jpegData, Filename: "a.jpg", Algorithm: models.AlgorithmCanny, KernelSize: 3, Canny: &models.CannyParams{}},
			wantFields: map[string]string{"algorithm": "canny", "kernel_size": "3"},
			wantName:   "a.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got receivedForm
			server := newBackend(t, http.StatusOK, `{"processed_image":"QUJD"}`, &got)

			resp, err := NewClient(server.URL, 0).Process(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if resp.ProcessedImage != "QUJD" {
				t.Errorf("expected processed image QUJD, got %q", resp.ProcessedImage)
			}
			if len(got.fields) != len(tt.wantFields) {
				t.Errorf("expected fields %v, got %v", tt.wantFields, got.fields)
			}
			for k, v := range tt.wantFields {
				if got.fields[k] != v {
					t.Errorf("field %s: expected %q, got %q", k, v, got.fields[k])
				}
			}
			if got.filename != tt.wantName {
				t.Errorf("expected filename %q, got %q", tt.wantName, got.filename)
			}
			if got.contentType != "image/jpeg" {
				t.Errorf("expected image/jpeg part, got %q", got.contentType)
			}
			if string(got.image) != string(jpegData) {
				t.Error("image bytes were not transmitted unchanged")
			}
		})
	}
}

func TestClient_ProcessResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		wantStatus  int
		wantMessage string
		want        models.RawResponse
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"processed_image":"QUJD","algorithm":"median"}`,
			want:   models.RawResponse{ProcessedImage: "QUJD", Algorithm: "median"},
		},
		{
			name:   "2xx with error field",
			status: http.StatusOK,
			body:   `{"error":"cannot decode image"}`,
			want:   models.RawResponse{Error: "cannot decode image"},
		},
		{
			name:   "2xx with non-JSON body",
			status: http.StatusOK,
			body:   `<html>ok</html>`,
			want:   models.RawResponse{},
		},
		{
			name:        "400 with error body",
			status:      http.StatusBadRequest,
			body:        `{"error":"Invalid algorithm"}`,
			wantErr:     true,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "backend status 400: Invalid algorithm",
		},
		{
			name:        "500 without body",
			status:      http.StatusInternalServerError,
			body:        ``,
			wantErr:     true,
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "backend status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newBackend(t, tt.status, tt.body, nil)
			resp, err := NewClient(server.URL, 0).Process(context.Background(), models.ProcessingRequest{
				Image: jpegData, Algorithm: models.AlgorithmMedian, KernelSize: 3,
			})

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !apperrors.IsType(err, apperrors.ErrorTypeTransport) {
					t.Errorf("expected transport error, got %v", err)
				}
				if code := apperrors.GetStatusCode(err); code != tt.wantStatus {
					t.Errorf("expected status %d, got %d", tt.wantStatus, code)
				}
				if !strings.Contains(err.Error(), tt.wantMessage) {
					t.Errorf("expected %q in %q", tt.wantMessage, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.ProcessedImage != tt.want.ProcessedImage || resp.Error != tt.want.Error || resp.Algorithm != tt.want.Algorithm {
				t.Errorf("expected %+v, got %+v", tt.want, *resp)
			}
		})
	}
}

func TestClient_ProcessNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).Process(context.Background(), models.ProcessingRequest{Image: jpegData})
	if !apperrors.IsType(err, apperrors.ErrorTypeTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if apperrors.GetStatusCode(err) != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", apperrors.GetStatusCode(err))
	}
}

func TestClient_ProcessCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(server.URL, 0).Process(ctx, models.ProcessingRequest{Image: jpegData})
	if !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestClient_InfoEndpoints(t *testing.T) {
	server := newBackend(t, http.StatusOK, `{}`, nil)
	client := NewClient(server.URL+"/", 0)
	ctx := context.Background()

	if client.BaseURL() != server.URL {
		t.Errorf("expected trailing slash to be trimmed, got %s", client.BaseURL())
	}

	list, err := client.Algorithms(ctx)
	if err != nil {
		t.Fatalf("Algorithms failed: %v", err)
	}
	if len(list.Algorithms) != 2 || list.Algorithms["canny"] == "" {
		t.Errorf("unexpected algorithm list %+v", list)
	}

	info, err := client.AlgorithmInfo(ctx, "median")
	if err != nil {
		t.Fatalf("AlgorithmInfo failed: %v", err)
	}
	if info.Algorithm != "median" || info.Parameters["kernel_size"] == nil {
		t.Errorf("unexpected algorithm info %+v", info)
	}

	if _, err := client.AlgorithmInfo(ctx, "sobel"); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %s", health.Status)
	}
}
