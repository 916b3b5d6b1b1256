package authnsrv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust"
	"github.com/strongroom-io/strongroom/pkg/trust/arn"
	"github.com/strongroom-io/strongroom/pkg/trust/authn"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey/kmskeysrv"
	"github.com/strongroom-io/strongroom/pkg/trust/permission/permsrv"
	"github.com/strongroom-io/strongroom/pkg/trust/token/tokensrv"
)

// Service orchestrates the end-to-end authentication flows for users and
// IAM principals.
type Service struct {
	connector authn.IdentityConnector
	roles     authn.RoleDirectory
	keys      *kmskeysrv.Manager
	perms     *permsrv.Service
	tokens    *tokensrv.Issuer

	adminGroup     string
	adminArns      map[string]bool
	caseSensitive  bool
	userTTL        time.Duration
	iamTTL         time.Duration
	payloadCeiling int
}

// NewService creates the authenticator. The admin ARN allow-list is
// parsed here once and treated as immutable afterwards.
func NewService(
	connector authn.IdentityConnector,
	roles authn.RoleDirectory,
	keys *kmskeysrv.Manager,
	perms *permsrv.Service,
	tokens *tokensrv.Issuer,
	cfg *config.Config,
) *Service {
	adminArns := make(map[string]bool, len(cfg.Authn.AdminArnAllowList))
	for _, a := range cfg.Authn.AdminArnAllowList {
		adminArns[a] = true
	}
	return &Service{
		connector:      connector,
		roles:          roles,
		keys:           keys,
		perms:          perms,
		tokens:         tokens,
		adminGroup:     cfg.Authn.AdminGroupName,
		adminArns:      adminArns,
		caseSensitive:  cfg.Authn.GroupNameCaseSensitive,
		userTTL:        cfg.Token.UserTTL,
		iamTTL:         cfg.Token.IAMTTL,
		payloadCeiling: cfg.KMS.PayloadSizeCeilingBytes,
	}
}

// AuthenticateUser verifies user credentials against the identity
// connector and mints a token. When the connector demands a second
// factor, the result carries the MFA state token instead and the caller
// must complete via MFACheck.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (*authn.UserAuthResult, error) {
	if username == "" {
		return nil, authn.ErrMissingCredentials("username")
	}
	if password == "" {
		return nil, authn.ErrMissingCredentials("password")
	}

	res, err := s.connector.Authenticate(ctx, username, password)
	if err != nil {
		return nil, authn.ErrConnectorFailed(err)
	}

	switch res.Status {
	case authn.StatusSuccess:
		return s.issueUserToken(ctx, res.Username, res.Groups)
	case authn.StatusMFARequired:
		return &authn.UserAuthResult{MFAStateToken: res.StateToken}, nil
	default:
		return nil, authn.ErrInvalidCredentials()
	}
}

// MFACheck completes a user authentication that stopped at the MFA gate.
func (s *Service) MFACheck(ctx context.Context, stateToken, deviceID, otp string) (*authn.UserAuthResult, error) {
	if stateToken == "" {
		return nil, authn.ErrMissingCredentials("state_token")
	}
	if otp == "" {
		return nil, authn.ErrMissingCredentials("otp")
	}

	res, err := s.connector.MFACheck(ctx, stateToken, deviceID, otp)
	if err != nil {
		return nil, authn.ErrConnectorFailed(err)
	}
	if res.Status != authn.StatusSuccess {
		return nil, authn.ErrInvalidCredentials()
	}
	return s.issueUserToken(ctx, res.Username, res.Groups)
}

func (s *Service) issueUserToken(ctx context.Context, username string, groups []string) (*authn.UserAuthResult, error) {
	p := trust.NewUserPrincipal(username, groups)
	tok, err := s.tokens.Generate(ctx, p, s.isAdminGroupMember(groups), s.userTTL, 0)
	if err != nil {
		return nil, err
	}
	logx.WithFields(logx.Fields{
		"principal": username,
		"admin":     tok.IsAdmin,
	}).Info("user authenticated")
	return &authn.UserAuthResult{Token: tok}, nil
}

func (s *Service) isAdminGroupMember(groups []string) bool {
	for _, g := range groups {
		if s.caseSensitive {
			if g == s.adminGroup {
				return true
			}
		} else if strings.EqualFold(g, s.adminGroup) {
			return true
		}
	}
	return false
}

// AuthenticateIAMPrincipal authenticates an AWS identity by its box-role
// linkage and returns the authentication payload encrypted under the
// principal's own CMK, so only that cloud identity can read the token.
func (s *Service) AuthenticateIAMPrincipal(ctx context.Context, creds authn.IAMCredentials) (*authn.IAMAuthResult, error) {
	if creds.Arn == "" {
		return nil, authn.ErrMissingCredentials("arn")
	}
	if creds.Region.IsEmpty() {
		return nil, authn.ErrMissingCredentials("region")
	}

	role, err := s.resolveLinkedRole(ctx, creds.Arn)
	if err != nil {
		return nil, err
	}

	keyArn, err := s.keys.GetOrProvisionKey(ctx, role.ID, creds.Arn, creds.Region)
	if err != nil {
		return nil, err
	}

	p := trust.NewIAMPrincipal(creds.Arn)
	policies, err := s.perms.BuildPolicySet(ctx, p)
	if err != nil {
		return nil, err
	}

	isAdmin := s.isAllowListedAdmin(creds.Arn)
	tok, err := s.tokens.Generate(ctx, p, isAdmin, s.iamTTL, 0)
	if err != nil {
		return nil, err
	}

	payload := authn.Payload{
		Token:    tok,
		Policies: policies.List(),
		Metadata: s.iamMetadata(role, creds, isAdmin),
	}
	plaintext, err := s.marshalBounded(payload)
	if err != nil {
		return nil, err
	}

	ciphertext, err := s.keys.Encrypt(ctx, creds.Region, keyArn, plaintext)
	if err != nil {
		return nil, err
	}

	logx.WithFields(logx.Fields{
		"principal": creds.Arn,
		"region":    creds.Region.String(),
		"admin":     isAdmin,
	}).Info("iam principal authenticated")

	return &authn.IAMAuthResult{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Region:     creds.Region.String(),
	}, nil
}

// resolveLinkedRole tries the literal ARN first and, when the literal is
// not already role-form, the derived base-role ARN. A principal matching
// neither is not linked to any box and may not authenticate.
func (s *Service) resolveLinkedRole(ctx context.Context, principalArn string) (*authn.LinkedRole, error) {
	role, err := s.roles.FindByArn(ctx, principalArn)
	if err != nil {
		return nil, err
	}
	if role == nil && !arn.IsRoleArn(principalArn) {
		if base, ok := arn.BaseRoleArn(principalArn); ok {
			if role, err = s.roles.FindByArn(ctx, base); err != nil {
				return nil, err
			}
		}
	}
	if role == nil {
		return nil, authn.ErrPrincipalNotLinked(principalArn)
	}
	return role, nil
}

// isAllowListedAdmin grants the admin flag to allow-listed ARNs,
// independent of box-level grants. The base-role form counts too, so a
// session credential inherits its role's listing.
func (s *Service) isAllowListedAdmin(principalArn string) bool {
	if s.adminArns[principalArn] {
		return true
	}
	if base, ok := arn.BaseRoleArn(principalArn); ok {
		return s.adminArns[base]
	}
	return false
}

func (s *Service) iamMetadata(role *authn.LinkedRole, creds authn.IAMCredentials, isAdmin bool) map[string]string {
	md := map[string]string{
		"role_id": role.ID.String(),
		"region":  creds.Region.String(),
	}
	if isAdmin {
		md["admin_group"] = s.adminGroup
	}
	return md
}

// marshalBounded serializes the payload, replacing policies and metadata
// with the truncation marker when the serialized form exceeds the
// single-call encryption ceiling. Oversize never fails the call; the
// dropped originals are logged and the client recovers via self-lookup.
func (s *Service) marshalBounded(payload authn.Payload) ([]byte, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, authn.ErrPayloadSealFailed(err)
	}
	if len(plaintext) <= s.payloadCeiling {
		return plaintext, nil
	}

	logx.WithFields(logx.Fields{
		"size":     len(plaintext),
		"ceiling":  s.payloadCeiling,
		"policies": len(payload.Policies),
	}).Warn("auth payload exceeds encryption ceiling, truncating")

	payload.Policies = []string{authn.TruncationMarker}
	payload.Metadata = map[string]string{"truncated": authn.TruncationMarker}
	if plaintext, err = json.Marshal(payload); err != nil {
		return nil, authn.ErrPayloadSealFailed(err)
	}
	return plaintext, nil
}
