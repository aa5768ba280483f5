// Package security provides shared security validation functions.
package security

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateImageSource checks that src is safe to place in an <img src>.
// Relative references, http(s) URLs and inline raster data URIs are allowed.
// Everything else, including javascript: and inline SVG, is rejected.
func ValidateImageSource(src string) error {
	src = strings.TrimSpace(src)
	if src == "" {
		return fmt.Errorf("image source is empty")
	}
	if strings.ContainsAny(src, "\x00\r\n\t") {
		return fmt.Errorf("image source contains control characters")
	}

	parsed, err := url.Parse(src)
	if err != nil {
		return fmt.Errorf("invalid image source: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "":
		// Protocol-relative URLs inherit the page scheme.
		return nil
	case "http", "https":
		if parsed.Hostname() == "" {
			return fmt.Errorf("image URL must have a host")
		}
		return nil
	case "data":
		return validateDataURI(parsed.Opaque)
	default:
		return fmt.Errorf("image source scheme %q is not allowed", parsed.Scheme)
	}
}

var allowedDataTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/avif": true,
}

func validateDataURI(opaque string) error {
	mediaType, _, found := strings.Cut(opaque, ",")
	if !found {
		return fmt.Errorf("malformed data URI")
	}
	mediaType, _, _ = strings.Cut(mediaType, ";")
	if !allowedDataTypes[strings.ToLower(mediaType)] {
		return fmt.Errorf("data URI media type %q is not allowed", mediaType)
	}
	return nil
}
