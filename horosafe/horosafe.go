// Package horosafe validates what enters reelscan from outside: target
// identifiers, OCR service URLs and remote response bodies.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
)

// MaxTargetIDLen bounds a target identifier.
const MaxTargetIDLen = 64

var (
	// ErrInvalidTarget wraps every ValidateTargetID failure.
	ErrInvalidTarget = errors.New("horosafe: invalid target identifier")
	// ErrUnsafeScheme is returned for service URLs that are not http(s).
	ErrUnsafeScheme = errors.New("horosafe: service URL must be http or https")
	// ErrTooLarge is returned by LimitedReadAll when the body overflows.
	ErrTooLarge = errors.New("horosafe: body too large")
)

// ValidateTargetID accepts 1 to MaxTargetIDLen characters from
// [A-Za-z0-9_-]. The identifier is spliced into the page URL and into
// nothing else, so anything that could alter the URL is rejected.
func ValidateTargetID(id string) error {
	if n := len(id); n == 0 || n > MaxTargetIDLen {
		return fmt.Errorf("%w: length %d", ErrInvalidTarget, n)
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: byte %q at %d", ErrInvalidTarget, c, i)
		}
	}
	return nil
}

// ValidateServiceURL requires an absolute http(s) URL with a host. Private
// and loopback hosts pass since the OCR service usually runs next door.
func ValidateServiceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("horosafe: parse service URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrUnsafeScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: service URL %q has no host", raw)
	}
	return nil
}

// LimitedReadAll reads r to the end and returns ErrTooLarge once more than
// max bytes arrive.
func LimitedReadAll(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, max)
	}
	return data, nil
}
