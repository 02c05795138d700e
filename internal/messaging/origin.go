package messaging

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidOrigin is returned for strings that are not a concrete origin.
var ErrInvalidOrigin = errors.New("invalid origin")

// Allowlist is the fixed set of sender origins a receiver accepts.
type Allowlist struct {
	origins map[string]struct{}
}

// NewAllowlist builds an allowlist from explicit origins.
// The wildcard "*" is refused: receivers never accept any-origin senders.
func NewAllowlist(origins ...string) (*Allowlist, error) {
	a := &Allowlist{origins: make(map[string]struct{}, len(origins))}

	for _, o := range origins {
		norm, err := NormalizeOrigin(o)
		if err != nil {
			return nil, err
		}
		a.origins[norm] = struct{}{}
	}

	return a, nil
}

// Allows reports whether messages from origin may be acted upon.
func (a *Allowlist) Allows(origin string) bool {
	if a == nil {
		return false
	}

	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return false
	}

	_, ok := a.origins[norm]

	return ok
}

// Origins returns the allowed origins in normalized form.
func (a *Allowlist) Origins() []string {
	out := make([]string, 0, len(a.origins))
	for o := range a.origins {
		out = append(out, o)
	}

	return out
}

// NormalizeOrigin validates an origin of the form scheme://host[:port] and
// lower-cases scheme and host. A single trailing slash is tolerated.
func NormalizeOrigin(origin string) (string, error) {
	if origin == "" || origin == "*" {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}

	u, err := url.Parse(strings.TrimSuffix(origin, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidOrigin, origin, err)
	}

	if u.Scheme == "" || u.Host == "" || u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}

	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
