// Package instance defines tenant configuration bound to a session and its
// validation rules. A Context is treated as immutable once it passes
// validation; the registry only ever stores copies.
package instance

import (
	"math"
	"net/url"
	"strings"
	"time"
)

// placeholderCredentials are substrings that mark a credential as a template
// value that was never filled in. Matching is case-insensitive.
var placeholderCredentials = []string{
	"your_api_key",
	"your-api-key",
	"placeholder",
	"example",
	"changeme",
}

// Context describes one tenant: where its upstream API lives, how to
// authenticate against it, and how patient the engine should be when
// calling it. TenantID, SessionID and Metadata are optional.
type Context struct {
	BaseURL       string                 `json:"base_url"`
	Credential    string                 `json:"credential"`
	CallTimeoutMS float64                `json:"call_timeout_ms"`
	MaxRetries    int                    `json:"max_retries"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// CallTimeout returns the upstream call timeout as a duration.
func (c Context) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS * float64(time.Millisecond))
}

// Clone returns a deep copy of the context. Metadata is copied so the
// result shares no mutable state with the receiver.
func (c Context) Clone() Context {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Validate checks every rule and returns the full list of violations.
// An empty result means the context is valid. Validate never panics,
// regardless of field contents.
func (c Context) Validate() []string {
	var violations []string

	if c.BaseURL == "" {
		violations = append(violations, "base url must not be empty")
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		violations = append(violations, "base url must be a valid http or https URL")
	}

	if c.Credential == "" {
		violations = append(violations, "credential must not be empty")
	} else if isPlaceholderCredential(c.Credential) {
		violations = append(violations, "credential must not be a placeholder value")
	}

	if !isFinite(c.CallTimeoutMS) || c.CallTimeoutMS <= 0 {
		violations = append(violations, "call timeout must be a finite positive number")
	}

	if c.MaxRetries < 0 {
		violations = append(violations, "max retries must not be negative")
	}

	return violations
}

// Valid is the cheap shape check used on the hot path: same rules as
// Validate, but it short-circuits on the first failure.
func (c Context) Valid() bool {
	if c.BaseURL == "" {
		return false
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if c.Credential == "" || isPlaceholderCredential(c.Credential) {
		return false
	}
	if !isFinite(c.CallTimeoutMS) || c.CallTimeoutMS <= 0 {
		return false
	}
	return c.MaxRetries >= 0
}

func isPlaceholderCredential(credential string) bool {
	lowered := strings.ToLower(credential)
	for _, p := range placeholderCredentials {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
