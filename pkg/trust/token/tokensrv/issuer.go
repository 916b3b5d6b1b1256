package tokensrv

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust"
	"github.com/strongroom-io/strongroom/pkg/trust/token"
)

// Issuer mints, resolves, refreshes and revokes bearer tokens in the two
// interchangeable representations.
type Issuer struct {
	repo      token.Repository
	blocklist token.Blocklist

	issueMode  token.IssueMode
	acceptMode token.AcceptMode

	issuer      string
	signingKeys map[string][]byte
	signingKid  string
	pepper      string

	userTTL         time.Duration
	maxRefreshCount int
}

// NewIssuer creates the token issuer from configuration.
func NewIssuer(repo token.Repository, blocklist token.Blocklist, cfg *config.TokenConfig) *Issuer {
	return &Issuer{
		repo:            repo,
		blocklist:       blocklist,
		issueMode:       token.ParseIssueMode(cfg.IssueMode),
		acceptMode:      token.ParseAcceptMode(cfg.AcceptMode),
		issuer:          cfg.Issuer,
		signingKeys:     cfg.SigningKeys,
		signingKid:      cfg.SigningKid,
		pepper:          cfg.HashPepper,
		userTTL:         cfg.UserTTL,
		maxRefreshCount: cfg.MaxRefreshCount,
	}
}

// authClaims is the JWT claim set. The principal is the subject, the
// token id is the jti.
type authClaims struct {
	PrincipalType string `json:"ptype"`
	IsAdmin       bool   `json:"adm,omitempty"`
	Groups        string `json:"grp,omitempty"`
	RefreshCount  int    `json:"rfc"`
	jwt.RegisteredClaims
}

// Generate mints a token for the principal in the configured
// representation. The raw secret (opaque) or compact form (JWT) is in
// AuthToken.Token and is shown to the caller exactly once.
func (s *Issuer) Generate(ctx context.Context, p trust.Principal, isAdmin bool, ttl time.Duration, refreshCount int) (*token.AuthToken, error) {
	now := time.Now().UTC()
	tok := &token.AuthToken{
		ID:            uuid.NewString(),
		Principal:     p.Identifier,
		PrincipalType: p.Type,
		IsAdmin:       isAdmin,
		Groups:        p.Groups,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		RefreshCount:  refreshCount,
	}

	if s.issueMode == token.IssueJWT {
		signed, err := s.sign(tok)
		if err != nil {
			return nil, err
		}
		tok.Token = signed
		return tok, nil
	}

	secret, err := token.GenerateSecret()
	if err != nil {
		return nil, err
	}
	rec := token.StoredToken{
		ID:            tok.ID,
		SecretHash:    token.HashSecret(secret, s.pepper),
		Principal:     tok.Principal,
		PrincipalType: tok.PrincipalType.String(),
		IsAdmin:       tok.IsAdmin,
		GroupsCSV:     token.JoinGroups(tok.Groups),
		CreatedAt:     tok.CreatedAt,
		ExpiresAt:     tok.ExpiresAt,
		RefreshCount:  tok.RefreshCount,
	}
	if err := s.repo.CreateHashed(ctx, rec); err != nil {
		return nil, token.ErrGenerationFailed(err)
	}
	tok.Token = secret
	return tok, nil
}

func (s *Issuer) sign(tok *token.AuthToken) (string, error) {
	key, ok := s.signingKeys[s.signingKid]
	if !ok {
		return "", token.ErrSigningKeyMissing().WithDetail("kid", s.signingKid)
	}

	claims := authClaims{
		PrincipalType: tok.PrincipalType.String(),
		IsAdmin:       tok.IsAdmin,
		Groups:        token.JoinGroups(tok.Groups),
		RefreshCount:  tok.RefreshCount,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tok.ID,
			Issuer:    s.issuer,
			Subject:   tok.Principal,
			IssuedAt:  jwt.NewNumericDate(tok.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = s.signingKid
	signed, err := t.SignedString(key)
	if err != nil {
		return "", token.ErrGenerationFailed(err)
	}
	return signed, nil
}

// Resolve maps a presented token string back to its AuthToken. It returns
// (nil, nil) for anything that cannot be resolved: unknown, expired,
// revoked and malformed are deliberately indistinguishable to callers.
func (s *Issuer) Resolve(ctx context.Context, presented string) (*token.AuthToken, error) {
	if presented == "" {
		return nil, nil
	}
	if token.LooksSigned(presented) {
		if s.acceptMode == token.AcceptOpaqueOnly {
			return nil, nil
		}
		return s.resolveSigned(presented), nil
	}
	if s.acceptMode == token.AcceptJWTOnly {
		return nil, nil
	}
	return s.resolveOpaque(ctx, presented)
}

func (s *Issuer) resolveSigned(presented string) *token.AuthToken {
	claims := &authClaims{}
	parsed, err := jwt.ParseWithClaims(presented, claims, s.keyForToken,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil || !parsed.Valid {
		return nil
	}
	if claims.ID == "" || s.blocklist.Contains(claims.ID) {
		return nil
	}

	tok := &token.AuthToken{
		ID:            claims.ID,
		Token:         presented,
		Principal:     claims.Subject,
		PrincipalType: trust.PrincipalType(claims.PrincipalType),
		IsAdmin:       claims.IsAdmin,
		Groups:        token.SplitGroups(claims.Groups),
		RefreshCount:  claims.RefreshCount,
	}
	if claims.IssuedAt != nil {
		tok.CreatedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	return tok
}

func (s *Issuer) keyForToken(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if key, ok := s.signingKeys[kid]; ok {
		return key, nil
	}
	return nil, token.ErrSigningKeyMissing().WithDetail("kid", kid)
}

func (s *Issuer) resolveOpaque(ctx context.Context, presented string) (*token.AuthToken, error) {
	rec, err := s.repo.GetByHash(ctx, token.HashSecret(presented, s.pepper))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	tok := &token.AuthToken{
		ID:            rec.ID,
		Token:         presented,
		Principal:     rec.Principal,
		PrincipalType: trust.PrincipalType(rec.PrincipalType),
		IsAdmin:       rec.IsAdmin,
		Groups:        token.SplitGroups(rec.GroupsCSV),
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		RefreshCount:  rec.RefreshCount,
	}
	if tok.IsExpired(time.Now().UTC()) {
		return nil, nil
	}
	return tok, nil
}

// Refresh revokes current and reissues with an incremented refresh count,
// preserving groups and the admin flag. Only USER tokens refresh. The old
// token's revocation must be durable before the new token exists; a
// revocation failure therefore aborts with no new token.
func (s *Issuer) Refresh(ctx context.Context, current *token.AuthToken) (*token.AuthToken, error) {
	if current.PrincipalType != trust.PrincipalUser {
		return nil, token.ErrRefreshNotAllowed()
	}
	if current.RefreshCount >= s.maxRefreshCount {
		return nil, token.ErrRefreshExhausted().
			WithDetail("refresh_count", current.RefreshCount)
	}

	if err := s.Revoke(ctx, current); err != nil {
		return nil, err
	}

	p := trust.NewUserPrincipal(current.Principal, current.Groups)
	return s.Generate(ctx, p, current.IsAdmin, s.userTTL, current.RefreshCount+1)
}

// Revoke invalidates a token. Opaque tokens are hard-deleted by hash and
// die immediately; signed tokens are blocklisted and die on each
// verifier's next blocklist refresh.
func (s *Issuer) Revoke(ctx context.Context, tok *token.AuthToken) error {
	if tok.IsSigned() {
		if err := s.blocklist.Add(ctx, tok.ID); err != nil {
			return token.ErrRevocationFailed(err)
		}
		return nil
	}
	if err := s.repo.DeleteByHash(ctx, token.HashSecret(tok.Token, s.pepper)); err != nil {
		return token.ErrRevocationFailed(err)
	}
	return nil
}

// SweepExpired deletes expired opaque rows in bounded batches. Signed
// tokens need no sweep; they simply stop verifying.
func (s *Issuer) SweepExpired(ctx context.Context, maxDelete, batchSize int, pause time.Duration) (int, error) {
	deleted, err := s.repo.DeleteExpiredBatch(ctx, maxDelete, batchSize, pause)
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		logx.WithField("deleted", deleted).Info("expired opaque tokens swept")
	}
	return deleted, nil
}
