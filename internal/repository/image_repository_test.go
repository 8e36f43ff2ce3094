package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/storage"
)

var jpegData = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

type fakeFetcher struct {
	data    []byte
	err     error
	targets []string
}

func (f *fakeFetcher) FetchImage(ctx context.Context, ref string) ([]byte, error) {
	f.targets = append(f.targets, ref)
	return f.data, f.err
}

func TestSourceImageRepository_Routing(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		want       string // which fetcher: http, blob or local
		wantTarget string
		wantName   string
	}{
		{name: "https", ref: "https://example.com/img/cat.jpg", want: "http", wantTarget: "https://example.com/img/cat.jpg", wantName: "cat.jpg"},
		{name: "azblob", ref: "azblob://images/dog.jpg", want: "blob", wantTarget: "azblob://images/dog.jpg", wantName: "dog.jpg"},
		{name: "blob url", ref: "https://acct.blob.core.windows.net/images/x.jpg", want: "blob", wantTarget: "https://acct.blob.core.windows.net/images/x.jpg", wantName: "x.jpg"},
		{name: "file url", ref: "file:///tmp/in/bird.jpg", want: "local", wantTarget: "/tmp/in/bird.jpg", wantName: "bird.jpg"},
		{name: "bare path", ref: "/tmp/in/fish.jpg", want: "local", wantTarget: "/tmp/in/fish.jpg", wantName: "fish.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetchers := map[string]*fakeFetcher{
				"http":  {data: jpegData},
				"blob":  {data: jpegData},
				"local": {data: jpegData},
			}
			repo := NewSourceImageRepository(fetchers["http"], fetchers["blob"], fetchers["local"], 1024)

			img, err := repo.FetchImage(context.Background(), tt.ref)
			if err != nil {
				t.Fatalf("FetchImage failed: %v", err)
			}
			if img.ContentType != "image/jpeg" || img.Filename != tt.wantName {
				t.Errorf("unexpected image metadata %+v", img)
			}
			for name, f := range fetchers {
				if name == tt.want {
					if len(f.targets) != 1 || f.targets[0] != tt.wantTarget {
						t.Errorf("expected %s fetcher to receive %q, got %v", name, tt.wantTarget, f.targets)
					}
				} else if len(f.targets) != 0 {
					t.Errorf("%s fetcher should not be used, got %v", name, f.targets)
				}
			}
		})
	}
}

func TestSourceImageRepository_Errors(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		http       *fakeFetcher
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{name: "empty", ref: " ", wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusBadRequest},
		{name: "unsupported scheme", ref: "ftp://example.com/a.jpg", wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusBadRequest},
		{name: "missing host", ref: "https:///a.jpg", wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusBadRequest},
		{name: "local disabled", ref: "/etc/passwd", wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusBadRequest},
		{name: "blob disabled", ref: "azblob://images/a.jpg", wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusBadRequest},
		{name: "fetch failure", ref: "https://example.com/a.jpg", http: &fakeFetcher{err: errors.New("connection refused")}, wantType: apperrors.ErrorTypeTransport, wantStatus: http.StatusBadGateway},
		{name: "not an image", ref: "https://example.com/a.jpg", http: &fakeFetcher{data: []byte("<html></html>")}, wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusUnsupportedMediaType},
		{name: "gif", ref: "https://example.com/a.gif", http: &fakeFetcher{data: []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")}, wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusUnsupportedMediaType},
		{name: "empty body", ref: "https://example.com/a.jpg", http: &fakeFetcher{data: []byte{}}, wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusBadRequest},
		{name: "fetcher size limit", ref: "https://example.com/a.jpg", http: &fakeFetcher{err: fmt.Errorf("fetch: %w", storage.ErrTooLarge)}, wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "detected size limit", ref: "https://example.com/a.jpg", http: &fakeFetcher{data: append(append([]byte{}, jpegData...), make([]byte, 2048)...)}, wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "blocked address", ref: "https://example.com/a.jpg", http: &fakeFetcher{err: fmt.Errorf("dial: %w", storage.ErrBlockedAddress)}, wantType: apperrors.ErrorTypeValidation, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpFetcher := tt.http
			if httpFetcher == nil {
				httpFetcher = &fakeFetcher{data: jpegData}
			}
			repo := NewSourceImageRepository(httpFetcher, nil, nil, 1024)

			_, err := repo.FetchImage(context.Background(), tt.ref)
			if !apperrors.IsType(err, tt.wantType) {
				t.Errorf("expected %s error, got %v", tt.wantType, err)
			}
			if code := apperrors.GetStatusCode(err); code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, code)
			}
		})
	}
}

func TestSourceImageRepository_PublicOnly(t *testing.T) {
	fetcher := &fakeFetcher{data: jpegData}
	repo := NewSourceImageRepository(fetcher, nil, nil, 1024).PublicOnly()

	for _, ref := range []string{"http://127.0.0.1/a.jpg", "http://localhost/a.jpg", "http://169.254.169.254/a.jpg"} {
		if _, err := repo.FetchImage(context.Background(), ref); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			t.Errorf("%s: expected validation error, got %v", ref, err)
		}
	}
	if len(fetcher.targets) != 0 {
		t.Errorf("rejected refs must not be fetched, got %v", fetcher.targets)
	}
	if _, err := repo.FetchImage(context.Background(), "https://example.com/a.jpg"); err != nil {
		t.Errorf("public host rejected: %v", err)
	}
}
