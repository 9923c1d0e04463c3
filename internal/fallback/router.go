package fallback

// #region imports
import (
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/generator"
	"github.com/danielpatrickdp/magi/go-controller/internal/prompts"
)

// #endregion

// #region roles

// Role is the pipeline duty a backend normally serves.
type Role string

const (
	Execution   Role = "execution"
	Evaluation  Role = "evaluation"
	Exploration Role = "exploration"
)

// Roles is the pipeline order.
var Roles = []Role{Execution, Evaluation, Exploration}

var roleBackend = map[Role]generator.BackendID{
	Execution:   generator.Codex,
	Evaluation:  generator.Claude,
	Exploration: generator.Gemini,
}

// priority lists substitutes per role, most preferred first.
var priority = map[Role][]generator.BackendID{
	Execution:   {generator.Claude, generator.Gemini},
	Evaluation:  {generator.Codex, generator.Gemini},
	Exploration: {generator.Claude, generator.Codex},
}

// BackendFor returns the backend that normally serves role.
func BackendFor(role Role) generator.BackendID { return roleBackend[role] }

// RoleFor returns the role id normally serves.
func RoleFor(id generator.BackendID) Role {
	for role, b := range roleBackend {
		if b == id {
			return role
		}
	}
	return ""
}

// Priority returns a copy of the substitute order for role.
func Priority(role Role) []generator.BackendID {
	return append([]generator.BackendID(nil), priority[role]...)
}

// #endregion

// #region info

// Info records one substitution.
type Info struct {
	OriginalBackend generator.BackendID `json:"original_backend"`
	FallbackBackend generator.BackendID `json:"fallback_backend"`
	Role            Role                `json:"role"`
	Reason          string              `json:"reason"`
	RetryAt         *time.Time          `json:"retry_at,omitempty"` // as advertised by the original backend
}

// #endregion

// #region router

// Router tracks rate-limited backends for one request. Create one per
// evaluation or pipeline run; it is safe for concurrent use.
type Router struct {
	mu      sync.Mutex
	limited map[generator.BackendID]bool
}

// NewRouter returns a router with no backend marked.
func NewRouter() *Router {
	return &Router{limited: make(map[generator.BackendID]bool)}
}

// MarkRateLimited records id as rate limited. Idempotent.
func (r *Router) MarkRateLimited(id generator.BackendID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limited[id] = true
}

// IsRateLimited reports whether id has been marked.
func (r *Router) IsRateLimited(id generator.BackendID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limited[id]
}

// Available returns the unmarked backends in canonical order.
func (r *Router) Available() []generator.BackendID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableLocked()
}

func (r *Router) availableLocked() []generator.BackendID {
	out := make([]generator.BackendID, 0, len(generator.Canonical))
	for _, id := range generator.Canonical {
		if !r.limited[id] {
			out = append(out, id)
		}
	}
	return out
}

// Reset clears every mark.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.limited)
}

// #endregion

// #region select

// FallbackFor returns the first substitute for role that is neither marked nor degraded.
func (r *Router) FallbackFor(role Role, degraded generator.BackendID) (generator.BackendID, Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, candidate := range priority[role] {
		if candidate == degraded || r.limited[candidate] {
			continue
		}
		return candidate, Info{
			OriginalBackend: degraded,
			FallbackBackend: candidate,
			Role:            role,
			Reason:          fmt.Sprintf("%s is rate limited, using %s as fallback", degraded, candidate),
		}, true
	}
	return "", Info{}, false
}

// SingleBackendForAllRoles returns the sole remaining backend and one Info per
// role it displaces. Zero or several remaining backends yield false and no infos.
func (r *Router) SingleBackendForAllRoles() (generator.BackendID, []Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	avail := r.availableLocked()
	if len(avail) != 1 {
		return "", nil, false
	}
	sole := avail[0]
	var infos []Info
	for _, role := range Roles {
		original := roleBackend[role]
		if original == sole {
			continue
		}
		infos = append(infos, Info{
			OriginalBackend: original,
			FallbackBackend: sole,
			Role:            role,
			Reason:          fmt.Sprintf("%s is rate limited, using %s as fallback for %s", original, sole, role),
		})
	}
	return sole, infos, true
}

// BuildFallbackPrompt builds the role-substitution prompt for substitute.
func (r *Router) BuildFallbackPrompt(role Role, substitute generator.BackendID, context string) string {
	return prompts.Fallback(string(role), substitute, roleBackend[role], context)
}

// #endregion
