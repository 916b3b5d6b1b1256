package permsrv

import (
	"context"
	"strings"

	"github.com/strongroom-io/strongroom/pkg/kernel"
	"github.com/strongroom-io/strongroom/pkg/trust"
	"github.com/strongroom-io/strongroom/pkg/trust/arn"
	"github.com/strongroom-io/strongroom/pkg/trust/permission"
)

// Service resolves capability sets and access decisions for principals.
type Service struct {
	grants        permission.GrantRepository
	caseSensitive bool
}

// NewService creates the permission resolver. caseSensitive controls how
// user group names are compared against grant references.
func NewService(grants permission.GrantRepository, caseSensitive bool) *Service {
	return &Service{grants: grants, caseSensitive: caseSensitive}
}

// BuildPolicySet computes the full capability set of a principal. The set
// always contains permission.CapabilitySelf.
//
// USER principals union the grants of all their groups. IAM principals
// union the grants of the literal ARN and, when the literal is not
// already a role ARN, the grants of the derived base-role ARN: a
// principal may authenticate via a session or profile ARN while grants
// are recorded against its role ARN, or vice versa.
func (s *Service) BuildPolicySet(ctx context.Context, p trust.Principal) (permission.PolicySet, error) {
	set := permission.NewPolicySet()

	var refs []string
	foldCase := false
	switch {
	case p.IsUser():
		refs = p.Groups
		foldCase = !s.caseSensitive
	case p.IsIAM():
		refs = []string{p.Identifier}
		if !arn.IsRoleArn(p.Identifier) {
			if base, ok := arn.BaseRoleArn(p.Identifier); ok {
				refs = append(refs, base)
			}
		}
	}
	if len(refs) == 0 {
		return set, nil
	}

	grants, err := s.grants.FindByRefs(ctx, refs, foldCase)
	if err != nil {
		return nil, permission.ErrGrantLookupFailed(err)
	}
	for _, g := range grants {
		set.Add(permission.NewCapability(g.BoxID, g.Role))
	}
	return set, nil
}

// HasAccess reports whether the principal holds one of requiredRoles on
// the box.
//
// IAM principals use exactly one lookup shape, chosen by ARN
// classification: assumed-role ARNs check the literal, base-role and
// account-root references; every other form checks the literal and
// account-root references only.
func (s *Service) HasAccess(ctx context.Context, p trust.Principal, boxID kernel.BoxID, requiredRoles ...permission.BoxRole) (bool, error) {
	grants, err := s.grants.FindByBox(ctx, boxID)
	if err != nil {
		return false, permission.ErrGrantLookupFailed(err)
	}

	roleWanted := make(map[permission.BoxRole]bool, len(requiredRoles))
	for _, r := range requiredRoles {
		roleWanted[r] = true
	}

	switch {
	case p.IsUser():
		for _, g := range grants {
			if roleWanted[g.Role] && s.matchesGroup(g.PrincipalRef, p.Groups) {
				return true, nil
			}
		}
	case p.IsIAM():
		refs := s.iamRefs(p.Identifier)
		for _, g := range grants {
			if roleWanted[g.Role] && refs[g.PrincipalRef] {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasOwnerAccess reports whether the principal owns the box. Destructive
// and administrative box operations are gated on this.
func (s *Service) HasOwnerAccess(ctx context.Context, p trust.Principal, boxID kernel.BoxID) (bool, error) {
	return s.HasAccess(ctx, p, boxID, permission.RoleOwner)
}

func (s *Service) matchesGroup(ref string, groups []string) bool {
	for _, g := range groups {
		if s.caseSensitive {
			if ref == g {
				return true
			}
		} else if strings.EqualFold(ref, g) {
			return true
		}
	}
	return false
}

// iamRefs builds the grant-reference set for an IAM principal. The
// assumed-role and non-assumed-role shapes are mutually exclusive.
func (s *Service) iamRefs(literal string) map[string]bool {
	refs := map[string]bool{literal: true}
	if arn.IsAssumedRoleArn(literal) {
		if base, ok := arn.BaseRoleArn(literal); ok {
			refs[base] = true
		}
	}
	if root, err := arn.AccountRootArn(literal); err == nil {
		refs[root] = true
	}
	return refs
}
