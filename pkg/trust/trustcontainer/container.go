// Package trustcontainer wires the trust core: it composes the
// permission, token, key and authentication services over their Postgres,
// Redis and AWS adapters. This is the only package that knows about every
// trust module.
package trustcontainer

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust/authn"
	"github.com/strongroom-io/strongroom/pkg/trust/authn/authninfra"
	"github.com/strongroom-io/strongroom/pkg/trust/authn/authnsrv"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey/kmskeyinfra"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey/kmskeysrv"
	"github.com/strongroom-io/strongroom/pkg/trust/permission/perminfra"
	"github.com/strongroom-io/strongroom/pkg/trust/permission/permsrv"
	"github.com/strongroom-io/strongroom/pkg/trust/token/tokeninfra"
	"github.com/strongroom-io/strongroom/pkg/trust/token/tokensrv"
)

// Deps is the shared infrastructure the trust core composes over. The
// identity connector is injected because its protocol (SAML, OIDC, LDAP)
// is owned by the deployment, not by this core.
type Deps struct {
	Cfg       *config.Config
	DB        *sqlx.DB
	Redis     *redis.Client
	AWS       aws.Config
	Connector authn.IdentityConnector
}

// Container holds the composed trust services.
type Container struct {
	Permissions   *permsrv.Service
	Tokens        *tokensrv.Issuer
	Keys          *kmskeysrv.Manager
	Authenticator *authnsrv.Service

	// IAMAuthenticator is the cached front for IAM authentication; use it
	// instead of Authenticator.AuthenticateIAMPrincipal on hot paths.
	IAMAuthenticator authninfra.IAMAuthenticator

	blocklist    *tokeninfra.RedisBlocklist
	tokenCleanup *tokeninfra.CleanupService
	keyCleanup   *kmskeyinfra.CleanupService
}

// New composes the trust core.
func New(deps Deps) *Container {
	cfg := deps.Cfg

	blocklist := tokeninfra.NewRedisBlocklist(deps.Redis, cfg.Token.BlocklistRefreshInterval)
	tokens := tokensrv.NewIssuer(tokeninfra.NewPostgresTokenRepository(deps.DB), blocklist, &cfg.Token)

	keys := kmskeysrv.NewManager(
		kmskeyinfra.NewPostgresCMKRepository(deps.DB),
		kmskeyinfra.NewAWSKeyProvider(deps.AWS),
		&cfg.KMS,
	)

	permissions := permsrv.NewService(
		perminfra.NewPostgresGrantRepository(deps.DB),
		cfg.Authn.GroupNameCaseSensitive,
	)

	authenticator := authnsrv.NewService(
		deps.Connector,
		authninfra.NewPostgresRoleDirectory(deps.DB),
		keys,
		permissions,
		tokens,
		cfg,
	)

	return &Container{
		Permissions:      permissions,
		Tokens:           tokens,
		Keys:             keys,
		Authenticator:    authenticator,
		IAMAuthenticator: authninfra.NewCachedIAMAuthenticator(authenticator, deps.Redis, cfg.Authn.IAMAuthCacheTTL),
		blocklist:        blocklist,
		tokenCleanup:     tokeninfra.NewCleanupService(tokens, &cfg.Token),
		keyCleanup:       kmskeyinfra.NewCleanupService(keys, &cfg.KMS),
	}
}

// StartBackgroundServices runs the blocklist refresher and the token and
// key sweeps until ctx ends.
func (c *Container) StartBackgroundServices(ctx context.Context) {
	go c.blocklist.Start(ctx)
	go c.tokenCleanup.Start(ctx)
	go c.keyCleanup.Start(ctx)
	logx.Info("trust background services started")
}
