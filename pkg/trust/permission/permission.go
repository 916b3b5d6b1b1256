package permission

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
)

// BoxRole is the access level a grant confers on a safe-deposit box.
type BoxRole string

const (
	RoleOwner     BoxRole = "owner"
	RoleAdmin     BoxRole = "admin"
	RoleReadWrite BoxRole = "readwrite"
	RoleReadOnly  BoxRole = "readonly"
)

func (r BoxRole) String() string { return string(r) }

// Grant links a principal reference (a user group name or an IAM ARN) to
// a role on one box. Grants are owned by the box administration module;
// this package only reads them.
type Grant struct {
	BoxID        kernel.BoxID `db:"box_id"`
	Role         BoxRole      `db:"role"`
	PrincipalRef string       `db:"principal_ref"`
}

// Capability is one entry of a principal's policy set, rendered as
// "<box>:<role>".
type Capability string

// CapabilitySelf is present in every policy set: it lets any
// authenticated principal introspect its own identity and token.
const CapabilitySelf Capability = "auth:self"

// NewCapability renders the capability for a grant.
func NewCapability(boxID kernel.BoxID, role BoxRole) Capability {
	return Capability(fmt.Sprintf("%s:%s", boxID, role))
}

// PolicySet is the set of capabilities resolved for one principal.
type PolicySet map[Capability]struct{}

// NewPolicySet creates a policy set containing CapabilitySelf.
func NewPolicySet() PolicySet {
	return PolicySet{CapabilitySelf: {}}
}

// Add inserts a capability.
func (s PolicySet) Add(c Capability) { s[c] = struct{}{} }

// Contains reports membership.
func (s PolicySet) Contains(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities in sorted order, for serialization.
func (s PolicySet) List() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

var ErrRegistry = errx.NewRegistry("PERM")

var (
	CodeGrantLookupFailed = ErrRegistry.Register("GRANT_LOOKUP_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Permission grant lookup failed")
	CodeOwnerRequired     = ErrRegistry.Register("OWNER_REQUIRED", errx.TypeAuthorization, http.StatusForbidden, "Owner access required")
)

func ErrGrantLookupFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeGrantLookupFailed, cause)
}

func ErrOwnerRequired() *errx.Error {
	return ErrRegistry.New(CodeOwnerRequired)
}
