package common

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/kasir-api/internal/domain"
)

// Headers identifying the cashier on write requests. Authentication happens
// upstream; these only attribute transactions and audit entries.
const (
	UserIDHeader   = "X-User-Id"
	UserNameHeader = "X-User-Name"
)

// RequestUser extracts the acting cashier from request headers. Missing or
// malformed headers yield an anonymous user rather than an error.
func RequestUser(r *http.Request) domain.User {
	u := domain.User{Name: strings.TrimSpace(r.Header.Get(UserNameHeader))}
	if raw := strings.TrimSpace(r.Header.Get(UserIDHeader)); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			u.ID = &id
		}
	}
	return u
}
