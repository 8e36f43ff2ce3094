package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/storage"
	"go-image-filter/pkg/validation"
)

// SourceImageRepository implements ImageRepository over HTTP, Azure blob and local storage
type SourceImageRepository struct {
	http      storage.ImageFetcher
	blob      storage.ImageFetcher
	local     storage.ImageFetcher
	validator *validation.URLValidator
	maxBytes  int64
}

// NewSourceImageRepository creates a repository. blob and local may be nil to disable
// those reference kinds.
func NewSourceImageRepository(httpFetcher, blob, local storage.ImageFetcher, maxBytes int64) *SourceImageRepository {
	return &SourceImageRepository{
		http:      httpFetcher,
		blob:      blob,
		local:     local,
		validator: validation.NewURLValidator(),
		maxBytes:  maxBytes,
	}
}

// PublicOnly makes the repository refuse URL sources on localhost or literal
// non-public IPs. Pair it with storage.NewPublicHTTPImageFetcher.
func (r *SourceImageRepository) PublicOnly() *SourceImageRepository {
	r.validator = validation.NewPublicURLValidator()
	return r
}

// FetchImage loads ref and checks it is a supported image
func (r *SourceImageRepository) FetchImage(ctx context.Context, ref string) (*SourceImage, error) {
	ref = strings.TrimSpace(ref)
	if err := r.ValidateSource(ref); err != nil {
		return nil, err
	}

	fetcher, target, name, err := r.route(ref)
	if err != nil {
		return nil, err
	}

	data, err := fetcher.FetchImage(ctx, target)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrTooLarge):
		return nil, ImageError(err)
	case errors.Is(err, storage.ErrBlockedAddress):
		return nil, apperrors.NewValidationError("URL host not allowed", err)
	default:
		return nil, apperrors.NewTransportError("failed to fetch image", 0, err)
	}

	contentType, err := storage.DetectImage(data, r.maxBytes)
	if err != nil {
		return nil, ImageError(err)
	}

	return &SourceImage{Data: data, Filename: name, ContentType: contentType}, nil
}

// ValidateSource validates if the provided reference is acceptable
func (r *SourceImageRepository) ValidateSource(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return apperrors.NewValidationError("image source cannot be empty", ErrInvalidSource)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return apperrors.NewValidationError("invalid image source", err)
	}
	switch u.Scheme {
	case "http", "https":
		return r.validator.ValidateImageURL(ref)
	case "azblob":
		if u.Host == "" {
			return apperrors.NewValidationError("blob reference must name a container", ErrInvalidSource)
		}
		return nil
	case "", "file":
		return nil
	default:
		return apperrors.NewValidationError("URL scheme not allowed", ErrInvalidSource)
	}
}

// route picks the fetcher for ref and returns the target it expects plus a file name
func (r *SourceImageRepository) route(ref string) (storage.ImageFetcher, string, string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, "", "", apperrors.NewValidationError("invalid image source", err)
	}

	var fetcher storage.ImageFetcher
	target := ref
	switch {
	case u.Scheme == "azblob" || (r.blob != nil && strings.HasSuffix(u.Host, ".blob.core.windows.net")):
		fetcher = r.blob
	case u.Scheme == "http" || u.Scheme == "https":
		fetcher = r.http
	case u.Scheme == "file":
		fetcher = r.local
		target = u.Path
	default:
		fetcher = r.local
	}
	if fetcher == nil {
		return nil, "", "", apperrors.NewValidationError(fmt.Sprintf("cannot load %q", ref), ErrSourceUnavailable)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = ""
	}
	return fetcher, target, name, nil
}

// ImageError maps image check failures to validation errors: 413 for oversized images,
// 415 for unsupported formats, 400 otherwise
func ImageError(err error) *apperrors.AppError {
	appErr := apperrors.NewValidationError("invalid image", err)
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		appErr.Message = "image too large"
		appErr.StatusCode = http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrUnsupportedFormat):
		appErr.Message = "unsupported image format"
		appErr.StatusCode = http.StatusUnsupportedMediaType
	}
	return appErr
}
