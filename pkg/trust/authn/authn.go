package authn

import (
	"context"
	"net/http"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
	"github.com/strongroom-io/strongroom/pkg/trust/token"
)

// IdentityStatus is the identity connector's verdict on a credential leg.
type IdentityStatus string

const (
	StatusSuccess     IdentityStatus = "SUCCESS"
	StatusMFARequired IdentityStatus = "MFA_REQUIRED"
	StatusDenied      IdentityStatus = "DENIED"
)

// IdentityResult is what the identity connector returns for either leg of
// a user authentication.
type IdentityResult struct {
	Status   IdentityStatus
	Username string
	Groups   []string

	// StateToken carries the MFA challenge state when Status is
	// StatusMFARequired. Opaque to this service.
	StateToken string
}

// IdentityConnector verifies user credentials against the external
// identity provider.
type IdentityConnector interface {
	Authenticate(ctx context.Context, username, password string) (*IdentityResult, error)
	MFACheck(ctx context.Context, stateToken, deviceID, otp string) (*IdentityResult, error)
}

// LinkedRole is a box-linked IAM role record. IAM principals may only
// authenticate when their ARN maps to one.
type LinkedRole struct {
	ID  kernel.RoleID `db:"id"`
	Arn string        `db:"arn"`
}

// RoleDirectory maps IAM ARNs to their box-linked role records. FindByArn
// returns (nil, nil) when no role is recorded for the ARN.
type RoleDirectory interface {
	FindByArn(ctx context.Context, roleArn string) (*LinkedRole, error)
}

// IAMCredentials identifies the calling AWS principal.
type IAMCredentials struct {
	Arn    string
	Region kernel.Region
}

// UserAuthResult is the outcome of a user authentication leg. Exactly one
// of Token and MFAStateToken is set.
type UserAuthResult struct {
	Token *token.AuthToken

	// MFAStateToken is returned instead of a token when the connector
	// demands a second factor; the caller completes via MFACheck.
	MFAStateToken string
}

// MFARequired reports whether the caller must complete an MFA check.
func (r *UserAuthResult) MFARequired() bool { return r.MFAStateToken != "" }

// IAMAuthResult carries the encrypted authentication payload. Only the
// authenticated principal's cloud identity can decrypt it.
type IAMAuthResult struct {
	Ciphertext string `json:"ciphertext"` // base64
	Region     string `json:"region"`
}

// Payload is the plaintext an IAM authentication encrypts: the minted
// token plus the principal's capabilities and metadata.
type Payload struct {
	Token    *token.AuthToken  `json:"token"`
	Policies []string          `json:"policies"`
	Metadata map[string]string `json:"metadata"`
}

// TruncationMarker replaces policies and metadata when the serialized
// payload exceeds the single-call encryption ceiling. The client then
// fetches the full set through an authenticated self-lookup.
const TruncationMarker = "TRUNCATED"

var ErrRegistry = errx.NewRegistry("AUTHN")

var (
	CodeInvalidCredentials = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid credentials")
	CodeMissingCredentials = ErrRegistry.Register("MISSING_CREDENTIALS", errx.TypeValidation, http.StatusBadRequest, "Missing credential fields")
	CodePrincipalNotLinked = ErrRegistry.Register("PRINCIPAL_NOT_LINKED", errx.TypeNotFound, http.StatusNotFound, "Principal is not linked to any box")
	CodeConnectorFailed    = ErrRegistry.Register("CONNECTOR_FAILED", errx.TypeExternal, http.StatusBadGateway, "Identity connector call failed")
	CodePayloadSealFailed  = ErrRegistry.Register("PAYLOAD_SEAL_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to seal authentication payload")
)

func ErrInvalidCredentials() *errx.Error {
	return ErrRegistry.New(CodeInvalidCredentials)
}

func ErrMissingCredentials(field string) *errx.Error {
	return ErrRegistry.New(CodeMissingCredentials).WithDetail("field", field)
}

func ErrPrincipalNotLinked(principalArn string) *errx.Error {
	return ErrRegistry.New(CodePrincipalNotLinked).WithDetail("arn", principalArn)
}

func ErrConnectorFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeConnectorFailed, cause)
}

func ErrPayloadSealFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodePayloadSealFailed, cause)
}
