package kmskey

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
)

// CMKRecord tracks the customer master key provisioned for one
// (principal role, region) pair. At most one record exists per pair;
// records are created lazily on the first IAM authentication in a region.
type CMKRecord struct {
	ID              string        `db:"id"`
	RoleID          kernel.RoleID `db:"principal_role_id"`
	KeyArn          string        `db:"kms_key_arn"`
	Region          kernel.Region `db:"region"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"last_updated_at"`
	LastValidatedAt time.Time     `db:"last_validated_at"`
}

// DecryptStatementSid is the fixed id of the policy statement granting
// decrypt to the principal. Drift detection parses the live policy by
// this sid, so it must never change across releases.
const DecryptStatementSid = "StrongroomPrincipalDecrypt"

const adminStatementSid = "StrongroomAccountAdmin"

// KeyPolicy is the KMS key policy document this service owns.
type KeyPolicy struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is one key policy statement.
type Statement struct {
	Sid       string       `json:"Sid"`
	Effect    string       `json:"Effect"`
	Principal AWSPrincipal `json:"Principal"`
	Action    StringList   `json:"Action"`
	Resource  string       `json:"Resource"`
}

// AWSPrincipal is the {"AWS": ...} principal element.
type AWSPrincipal struct {
	AWS StringList `json:"AWS"`
}

// StringList unmarshals a JSON element that may be a string or an array
// of strings, which is how AWS renders single-element lists in policies.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = StringList(many)
	return nil
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

// NewKeyPolicy builds the standard policy: the owning account keeps full
// administration and exactly principalArn may decrypt.
func NewKeyPolicy(accountID, principalArn string) KeyPolicy {
	return KeyPolicy{
		Version: "2012-10-17",
		Statement: []Statement{
			{
				Sid:       adminStatementSid,
				Effect:    "Allow",
				Principal: AWSPrincipal{AWS: StringList{"arn:aws:iam::" + accountID + ":root"}},
				Action:    StringList{"kms:*"},
				Resource:  "*",
			},
			{
				Sid:       DecryptStatementSid,
				Effect:    "Allow",
				Principal: AWSPrincipal{AWS: StringList{principalArn}},
				Action:    StringList{"kms:Decrypt", "kms:DescribeKey"},
				Resource:  "*",
			},
		},
	}
}

// JSON renders the policy document.
func (p KeyPolicy) JSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", errx.Wrap(err, "failed to render key policy", errx.TypeInternal)
	}
	return string(data), nil
}

// ParseKeyPolicy parses a live policy document fetched from the provider.
func ParseKeyPolicy(document string) (KeyPolicy, error) {
	var p KeyPolicy
	if err := json.Unmarshal([]byte(document), &p); err != nil {
		return KeyPolicy{}, errx.Wrap(err, "failed to parse key policy", errx.TypeInternal)
	}
	return p, nil
}

// PrincipalFor returns the single AWS principal of the statement with the
// given sid. ok is false when the statement is missing or does not name
// exactly one principal.
func (p KeyPolicy) PrincipalFor(sid string) (string, bool) {
	for _, stmt := range p.Statement {
		if stmt.Sid == sid {
			if len(stmt.Principal.AWS) != 1 {
				return "", false
			}
			return stmt.Principal.AWS[0], true
		}
	}
	return "", false
}

var ErrRegistry = errx.NewRegistry("KMSKEY")

var (
	CodeProvisioningFailed = ErrRegistry.Register("PROVISIONING_FAILED", errx.TypeExternal, http.StatusBadGateway, "Key provisioning failed")
	CodeRecordAccessFailed = ErrRegistry.Register("RECORD_ACCESS_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Key record access failed")
	CodeDeletionFailed     = ErrRegistry.Register("DELETION_FAILED", errx.TypeExternal, http.StatusBadGateway, "Key deletion scheduling failed")
)

func ErrProvisioningFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeProvisioningFailed, cause)
}

func ErrRecordAccessFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeRecordAccessFailed, cause)
}

func ErrDeletionFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeDeletionFailed, cause)
}
