package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go-image-filter/pkg/validation"
)

// ErrBlockedAddress is returned when a fetch would connect to a loopback, private or
// link-local address while such addresses are blocked
var ErrBlockedAddress = errors.New("address not allowed")

// ImageFetcher loads the raw bytes of an image from a reference
type ImageFetcher interface {
	FetchImage(ctx context.Context, ref string) ([]byte, error)
}

// HTTPImageFetcher implements ImageFetcher for http(s) URLs
type HTTPImageFetcher struct {
	client   *http.Client
	maxBytes int64
	backoff  time.Duration
}

// NewHTTPImageFetcher creates an HTTP image fetcher that refuses bodies over maxBytes
func NewHTTPImageFetcher(maxBytes int64) *HTTPImageFetcher {
	return newHTTPImageFetcher(maxBytes, &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second})
}

// NewPublicHTTPImageFetcher is NewHTTPImageFetcher that refuses to connect to non-public
// addresses. The check runs on the resolved address of every connection, redirects included.
func NewPublicHTTPImageFetcher(maxBytes int64) *HTTPImageFetcher {
	return newHTTPImageFetcher(maxBytes, &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   publicAddressOnly,
	})
}

func newHTTPImageFetcher(maxBytes int64, dialer *net.Dialer) *HTTPImageFetcher {
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression:     false,
		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPImageFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,

			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		maxBytes: maxBytes,
		backoff:  time.Second,
	}
}

// FetchImage downloads imageURL. Network errors and 5xx are retried (3 attempts,
// linear backoff); 4xx fails immediately.
func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * h.backoff):
			}
		}

		data, retry, err := h.fetchOnce(ctx, imageURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}

	return nil, fmt.Errorf("failed to fetch image after 3 attempts: %w", lastErr)
}

func (h *HTTPImageFetcher) fetchOnce(ctx context.Context, imageURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}

	req.Header.Set("Accept", "image/jpeg, image/png, image/bmp, image/tiff, */*")
	req.Header.Set("User-Agent", "Go-Image-Filter/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlockedAddress) {
			return nil, false, err
		}
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if resp.ContentLength > h.maxBytes {
		return nil, false, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, resp.ContentLength, h.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > h.maxBytes {
		return nil, false, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, h.maxBytes)
	}
	return data, false, nil
}

func publicAddressOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || !validation.IsPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}
