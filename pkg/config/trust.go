package config

import (
	"strings"
	"time"
)

// TokenConfig configures token issuance and acceptance.
type TokenConfig struct {
	// IssueMode selects the representation of newly minted tokens:
	// "OPAQUE" or "JWT".
	IssueMode string

	// AcceptMode gates which presented representations are resolved:
	// "OPAQUE_ONLY", "JWT_ONLY" or "ALL".
	AcceptMode string

	UserTTL         time.Duration
	IAMTTL          time.Duration
	MaxRefreshCount int

	Issuer string

	// SigningKeys maps key id -> HMAC secret. New JWTs are signed with
	// SigningKid; older kids stay in the map until every token signed
	// with them has expired.
	SigningKeys map[string][]byte
	SigningKid  string

	// HashPepper keys the HMAC used to hash opaque token secrets at rest.
	HashPepper string

	// BlocklistRefreshInterval bounds how stale a verifier's view of
	// revoked JWT ids may be.
	BlocklistRefreshInterval time.Duration

	SweepInterval   time.Duration
	SweepMaxDelete  int
	SweepBatchSize  int
	SweepBatchPause time.Duration
}

func loadTokenConfig() TokenConfig {
	return TokenConfig{
		IssueMode:                getEnv("TOKEN_ISSUE_MODE", "OPAQUE"),
		AcceptMode:               getEnv("TOKEN_ACCEPT_MODE", "ALL"),
		UserTTL:                  getEnvDuration("USER_TOKEN_TTL", 12*time.Hour),
		IAMTTL:                   getEnvDuration("IAM_TOKEN_TTL", time.Hour),
		MaxRefreshCount:          getEnvInt("MAX_REFRESH_COUNT", 30),
		Issuer:                   getEnv("TOKEN_ISSUER", "strongroom"),
		SigningKeys:              parseSigningKeys(getEnv("TOKEN_SIGNING_KEYS", "")),
		SigningKid:               getEnv("TOKEN_SIGNING_KID", ""),
		HashPepper:               getEnv("TOKEN_HASH_PEPPER", ""),
		BlocklistRefreshInterval: getEnvDuration("BLOCKLIST_REFRESH_INTERVAL", time.Minute),
		SweepInterval:            getEnvDuration("TOKEN_SWEEP_INTERVAL", time.Hour),
		SweepMaxDelete:           getEnvInt("TOKEN_SWEEP_MAX_DELETE", 10000),
		SweepBatchSize:           getEnvInt("TOKEN_SWEEP_BATCH_SIZE", 500),
		SweepBatchPause:          getEnvDuration("TOKEN_SWEEP_BATCH_PAUSE", 100*time.Millisecond),
	}
}

// parseSigningKeys parses "kid1=secret1,kid2=secret2".
func parseSigningKeys(raw string) map[string][]byte {
	keys := make(map[string][]byte)
	for _, pair := range strings.Split(raw, ",") {
		kid, secret, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && kid != "" && secret != "" {
			keys[kid] = []byte(secret)
		}
	}
	return keys
}

// KMSConfig configures per-principal CMK management.
type KMSConfig struct {
	Environment string
	AccountID   string

	RevalidationInterval time.Duration

	// PayloadSizeCeilingBytes is the largest plaintext a single KMS
	// Encrypt call accepts. Larger auth payloads are truncated.
	PayloadSizeCeilingBytes int

	DeletionPendingDays int

	SweepInterval     time.Duration
	SweepInactiveDays int
	SweepCooldown     time.Duration
}

func loadKMSConfig() KMSConfig {
	return KMSConfig{
		Environment:             getEnv("ENVIRONMENT", "dev"),
		AccountID:               getEnv("AWS_ACCOUNT_ID", ""),
		RevalidationInterval:    getEnvDuration("KMS_REVALIDATION_INTERVAL", 24*time.Hour),
		PayloadSizeCeilingBytes: getEnvInt("KMS_PAYLOAD_SIZE_CEILING_BYTES", 4096),
		DeletionPendingDays:     getEnvInt("KMS_DELETION_PENDING_DAYS", 7),
		SweepInterval:           getEnvDuration("KMS_SWEEP_INTERVAL", 24*time.Hour),
		SweepInactiveDays:       getEnvInt("KMS_SWEEP_INACTIVE_DAYS", 90),
		SweepCooldown:           getEnvDuration("KMS_SWEEP_COOLDOWN", time.Second),
	}
}

// AuthnConfig configures principal authentication.
type AuthnConfig struct {
	AdminGroupName string

	// AdminArnAllowList grants the admin flag to specific IAM ARNs,
	// independent of resource-level grants. Parsed once here; treated
	// as immutable afterwards.
	AdminArnAllowList []string

	GroupNameCaseSensitive bool

	IAMAuthCacheTTL time.Duration

	// IdentityProviderURL is the base URL of the external identity
	// service the HTTP connector talks to.
	IdentityProviderURL     string
	IdentityProviderToken   string
	IdentityProviderTimeout time.Duration
}

func loadAuthnConfig() AuthnConfig {
	return AuthnConfig{
		AdminGroupName:         getEnv("ADMIN_GROUP_NAME", "strongroom-admin"),
		AdminArnAllowList:      getEnvStringSlice("ADMIN_ARN_ALLOWLIST", nil),
		GroupNameCaseSensitive: getEnvBool("GROUP_NAME_CASE_SENSITIVE", false),
		IAMAuthCacheTTL:        getEnvDuration("IAM_AUTH_CACHE_TTL", time.Minute),

		IdentityProviderURL:     getEnv("IDENTITY_PROVIDER_URL", ""),
		IdentityProviderToken:   getEnv("IDENTITY_PROVIDER_TOKEN", ""),
		IdentityProviderTimeout: getEnvDuration("IDENTITY_PROVIDER_TIMEOUT", 10*time.Second),
	}
}
