// Package trust is the secrets broker's trust core: it authenticates
// human users and AWS IAM principals, issues and resolves bearer tokens,
// manages per-principal KMS encryption keys, and resolves permissions.
//
// Subpackages follow the repo convention: the domain package holds types,
// ports and error registries; <domain>srv holds the services; <domain>infra
// holds Postgres/Redis/AWS adapters. trustcontainer wires the lot.
package trust

// PrincipalType distinguishes the two kinds of authenticated identity.
type PrincipalType string

const (
	// PrincipalUser is a human authenticated through the identity
	// connector (username + password, optionally MFA).
	PrincipalUser PrincipalType = "USER"

	// PrincipalIAM is an AWS identity authenticated by its role linkage.
	PrincipalIAM PrincipalType = "IAM"
)

func (p PrincipalType) String() string { return string(p) }

// Principal is the authenticated identity a request acts as. It is derived
// per call and never stored.
type Principal struct {
	Type PrincipalType

	// Identifier is the username for USER principals and the literal
	// (as-presented) ARN for IAM principals.
	Identifier string

	// Groups are the identity-connector groups for USER principals.
	// Empty for IAM principals.
	Groups []string
}

// NewUserPrincipal builds a USER principal.
func NewUserPrincipal(username string, groups []string) Principal {
	return Principal{Type: PrincipalUser, Identifier: username, Groups: groups}
}

// NewIAMPrincipal builds an IAM principal from the presented ARN.
func NewIAMPrincipal(principalArn string) Principal {
	return Principal{Type: PrincipalIAM, Identifier: principalArn}
}

// IsUser reports whether the principal is a human user.
func (p Principal) IsUser() bool { return p.Type == PrincipalUser }

// IsIAM reports whether the principal is an AWS identity.
func (p Principal) IsIAM() bool { return p.Type == PrincipalIAM }
