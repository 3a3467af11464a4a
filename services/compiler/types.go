package compilersvc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/R3E-Network/compile_service/internal/errors"
	"github.com/R3E-Network/compile_service/internal/limiter"
	"github.com/R3E-Network/compile_service/services/common/service"
)

// =============================================================================
// Request Types
// =============================================================================

// MaxNameLength bounds the model name.
const MaxNameLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// CompileRequest is the body of POST /compile.
type CompileRequest struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

// Validate checks the request before any compiler work starts. Name is
// trimmed in place.
func (r *CompileRequest) Validate() *errors.ServiceError {
	r.Name = strings.TrimSpace(r.Name)

	switch {
	case strings.TrimSpace(r.Text) == "":
		return errors.InvalidRequest("text is required")
	case r.Name == "":
		return errors.InvalidRequest("name is required")
	case len(r.Name) > MaxNameLength:
		return errors.InvalidRequest(fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	case r.Name == "." || r.Name == "..":
		return errors.InvalidRequest("name must not be a path component")
	case strings.HasPrefix(r.Name, "-"):
		// the name is passed to the compiler as an argument
		return errors.InvalidRequest("name must not start with '-'")
	case !namePattern.MatchString(r.Name):
		return errors.InvalidRequest("name may only contain letters, digits, '_', '-' and '.'")
	}
	return nil
}

// =============================================================================
// Statistics
// =============================================================================

// Statistics is the statistics section of GET /info.
type Statistics struct {
	Compiles       service.MetricsSnapshot `json:"compiles"`
	Limiter        limiter.Stats           `json:"limiter"`
	ScratchRoot    string                  `json:"scratch_root"`
	PendingHandles int                     `json:"pending_handles"`
	CompileTimeout string                  `json:"compile_timeout"`
	Janitor        *JanitorStats           `json:"janitor,omitempty"`
	// RateLimitedClients is only reported while per-client limiting is on.
	RateLimitedClients *int `json:"rate_limited_clients,omitempty"`
}

// JanitorStats describes the most recent scratch sweep.
type JanitorStats struct {
	LastSweep string `json:"last_sweep,omitempty"`
	Removed   int    `json:"removed"`
}
