package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/trust"
)

// IssueMode selects the physical representation of newly minted tokens.
type IssueMode string

const (
	IssueOpaque IssueMode = "OPAQUE"
	IssueJWT    IssueMode = "JWT"
)

// ParseIssueMode parses a configured issue mode, defaulting to OPAQUE.
func ParseIssueMode(s string) IssueMode {
	if strings.EqualFold(s, string(IssueJWT)) {
		return IssueJWT
	}
	return IssueOpaque
}

// AcceptMode gates which presented representations Resolve will consider.
// Explicit configuration here is preferred over shape-sniffing alone; with
// AcceptAll the structural dispatch on dot segments remains a residual
// ambiguity.
type AcceptMode string

const (
	AcceptOpaqueOnly AcceptMode = "OPAQUE_ONLY"
	AcceptJWTOnly    AcceptMode = "JWT_ONLY"
	AcceptAll        AcceptMode = "ALL"
)

// ParseAcceptMode parses a configured accept mode, defaulting to ALL.
func ParseAcceptMode(s string) AcceptMode {
	switch {
	case strings.EqualFold(s, string(AcceptOpaqueOnly)):
		return AcceptOpaqueOnly
	case strings.EqualFold(s, string(AcceptJWTOnly)):
		return AcceptJWTOnly
	default:
		return AcceptAll
	}
}

// AuthToken is the logical bearer token, independent of representation.
// Token holds the raw secret (opaque) or the signed compact form (JWT);
// it is shown to the caller once at issue time and never persisted.
type AuthToken struct {
	ID            string
	Token         string
	Principal     string
	PrincipalType trust.PrincipalType
	IsAdmin       bool
	Groups        []string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RefreshCount  int
}

// IsExpired reports whether the token has expired at now.
func (t *AuthToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsSigned reports whether the token carries the JWT representation.
func (t *AuthToken) IsSigned() bool { return LooksSigned(t.Token) }

// LooksSigned classifies a presented token string structurally: three
// dot-separated segments mean JWT, anything else is treated as opaque.
func LooksSigned(presented string) bool {
	return strings.Count(presented, ".") == 2
}

// StoredToken is the persisted form of an opaque token. Only the keyed
// hash of the secret is stored; the raw secret is unrecoverable.
type StoredToken struct {
	ID            string    `db:"id"`
	SecretHash    string    `db:"secret_hash"`
	Principal     string    `db:"principal"`
	PrincipalType string    `db:"principal_type"`
	IsAdmin       bool      `db:"is_admin"`
	GroupsCSV     string    `db:"groups_csv"`
	CreatedAt     time.Time `db:"created_at"`
	ExpiresAt     time.Time `db:"expires_at"`
	RefreshCount  int       `db:"refresh_count"`
}

// secretPrefix marks strongroom opaque tokens. A prefix makes leaked
// secrets greppable and keeps the representation free of dots.
const secretPrefix = "sr_"

// GenerateSecret returns a new high-entropy opaque token secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", ErrGenerationFailed(err)
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}

// HashSecret computes the keyed hash under which an opaque secret is
// stored and looked up.
func HashSecret(secret, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// JoinGroups renders the csv form persisted and carried in claims.
func JoinGroups(groups []string) string { return strings.Join(groups, ",") }

// SplitGroups parses the csv form back into a slice; empty yields nil.
func SplitGroups(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

var ErrRegistry = errx.NewRegistry("TOKEN")

var (
	CodeGenerationFailed  = ErrRegistry.Register("GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Token generation failed")
	CodeRevocationFailed  = ErrRegistry.Register("REVOCATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Token revocation failed")
	CodeRefreshExhausted  = ErrRegistry.Register("REFRESH_EXHAUSTED", errx.TypeAuthorization, http.StatusForbidden, "Maximum refresh count reached")
	CodeRefreshNotAllowed = ErrRegistry.Register("REFRESH_NOT_ALLOWED", errx.TypeValidation, http.StatusBadRequest, "Only user tokens can be refreshed")
	CodeSigningKeyMissing = ErrRegistry.Register("SIGNING_KEY_MISSING", errx.TypeInternal, http.StatusInternalServerError, "No signing key configured for the active kid")
)

func ErrGenerationFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeGenerationFailed, cause)
}

func ErrRevocationFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeRevocationFailed, cause)
}

func ErrRefreshExhausted() *errx.Error {
	return ErrRegistry.New(CodeRefreshExhausted)
}

func ErrRefreshNotAllowed() *errx.Error {
	return ErrRegistry.New(CodeRefreshNotAllowed)
}

func ErrSigningKeyMissing() *errx.Error {
	return ErrRegistry.New(CodeSigningKeyMissing)
}
