package session

import (
	"regexp"
	"time"

	"go-mcp-session-engine/internal/instance"
)

// Valid handles are short alphanumeric-and-hyphen strings. The format is
// checked before any registry or store lookup so malformed input never
// reaches the external session store.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,100}$`)

// ValidHandle reports whether a session handle is well-formed.
func ValidHandle(handle string) bool {
	return handlePattern.MatchString(handle)
}

// Record is one live session owned by the registry. ExpiresAt is always
// LastAccess plus the registry's session timeout; it is recomputed on
// every touch.
type Record struct {
	Handle     string           `json:"handle"`
	Context    instance.Context `json:"context"`
	CreatedAt  time.Time        `json:"created_at"`
	LastAccess time.Time        `json:"last_access"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// snapshot returns a detached copy safe to hand outside the registry lock.
func (r *Record) snapshot() Record {
	out := *r
	out.Context = r.Context.Clone()
	return out
}
