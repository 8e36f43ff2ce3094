package validation

import (
	"net"
	"net/url"
	"strings"

	apperrors "go-image-filter/internal/errors"
)

// URLValidator checks image source URLs and the backend base URL
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
	publicOnly     bool
}

// sharedAddressSpace is the carrier-grade NAT range, not covered by net.IP.IsPrivate
var sharedAddressSpace = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// IsPublicIP reports whether ip is a globally routable unicast address
func IsPublicIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() ||
		ip.IsInterfaceLocalMulticast() || sharedAddressSpace.Contains(ip) {
		return false
	}
	return true
}

// NewURLValidator accepts http and https URLs on any host
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
	}
}

// NewPublicURLValidator is NewURLValidator that also refuses localhost and literal
// non-public IP hosts. Names resolving to such addresses are caught when dialing.
func NewPublicURLValidator() *URLValidator {
	v := NewURLValidator()
	v.publicOnly = true
	return v
}

// NewURLValidatorWithOptions restricts schemes and, when hosts is non-empty, hosts
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateImageURL validates a URL an image can be downloaded from
func (v *URLValidator) ValidateImageURL(imageURL string) error {
	_, err := v.parse(imageURL)
	return err
}

// ValidateBaseURL validates a service base URL: it must not carry a query or fragment
// because request paths are appended to it.
func (v *URLValidator) ValidateBaseURL(baseURL string) error {
	u, err := v.parse(baseURL)
	if err != nil {
		return err
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return apperrors.NewValidationError("base URL must not contain a query or fragment", nil)
	}
	return nil
}

func (v *URLValidator) parse(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid URL format", err)
	}

	if !contains(v.allowedSchemes, parsedURL.Scheme) {
		return nil, apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	if parsedURL.Host == "" {
		return nil, apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if len(v.allowedHosts) > 0 && !contains(v.allowedHosts, parsedURL.Hostname()) {
		return nil, apperrors.NewValidationError("URL host not allowed", nil)
	}

	if v.publicOnly {
		host := strings.ToLower(strings.TrimSuffix(parsedURL.Hostname(), "."))
		if host == "localhost" || strings.HasSuffix(host, ".localhost") {
			return nil, apperrors.NewValidationError("URL host not allowed", nil)
		}
		if ip := net.ParseIP(host); ip != nil && !IsPublicIP(ip) {
			return nil, apperrors.NewValidationError("URL host not allowed", nil)
		}
	}

	return parsedURL, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
