package tokensrv_test

import (
	"context"
	"testing"
	"time"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/trust"
	"github.com/strongroom-io/strongroom/pkg/trust/token"
	"github.com/strongroom-io/strongroom/pkg/trust/token/tokensrv"
)

// memRepo is an in-memory token.Repository.
type memRepo struct {
	rows    map[string]token.StoredToken // secret hash -> row
	creates int
	deletes int
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]token.StoredToken{}} }

func (m *memRepo) CreateHashed(_ context.Context, rec token.StoredToken) error {
	m.creates++
	m.rows[rec.SecretHash] = rec
	return nil
}

func (m *memRepo) GetByHash(_ context.Context, hash string) (*token.StoredToken, error) {
	rec, ok := m.rows[hash]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memRepo) DeleteByHash(_ context.Context, hash string) error {
	m.deletes++
	delete(m.rows, hash)
	return nil
}

func (m *memRepo) DeleteExpiredBatch(_ context.Context, maxDelete, batchSize int, _ time.Duration) (int, error) {
	deleted := 0
	now := time.Now().UTC()
	for hash, rec := range m.rows {
		if deleted >= maxDelete {
			break
		}
		if !rec.ExpiresAt.After(now) {
			delete(m.rows, hash)
			deleted++
		}
	}
	return deleted, nil
}

// memBlocklist mimics the pull-refreshed blocklist: Contains serves only
// what the last Refresh saw.
type memBlocklist struct {
	durable  map[string]struct{}
	snapshot map[string]struct{}
}

func newMemBlocklist() *memBlocklist {
	return &memBlocklist{durable: map[string]struct{}{}, snapshot: map[string]struct{}{}}
}

func (b *memBlocklist) Add(_ context.Context, id string) error {
	b.durable[id] = struct{}{}
	return nil
}

func (b *memBlocklist) Contains(id string) bool {
	_, ok := b.snapshot[id]
	return ok
}

func (b *memBlocklist) Refresh(_ context.Context) error {
	b.snapshot = make(map[string]struct{}, len(b.durable))
	for id := range b.durable {
		b.snapshot[id] = struct{}{}
	}
	return nil
}

func testConfig(issueMode string) *config.TokenConfig {
	return &config.TokenConfig{
		IssueMode:       issueMode,
		AcceptMode:      "ALL",
		UserTTL:         time.Hour,
		IAMTTL:          time.Hour,
		MaxRefreshCount: 2,
		Issuer:          "strongroom-test",
		SigningKeys:     map[string][]byte{"k1": []byte("test-signing-secret")},
		SigningKid:      "k1",
		HashPepper:      "test-pepper",
	}
}

func TestGenerateResolve_RoundTrip(t *testing.T) {
	for _, mode := range []string{"OPAQUE", "JWT"} {
		t.Run(mode, func(t *testing.T) {
			issuer := tokensrv.NewIssuer(newMemRepo(), newMemBlocklist(), testConfig(mode))
			p := trust.NewUserPrincipal("alice", []string{"dev-team", "ops-team"})

			minted, err := issuer.Generate(context.Background(), p, true, time.Hour, 3)
			if err != nil {
				t.Fatal(err)
			}
			if minted.Token == "" {
				t.Fatal("expected a presentable token string")
			}

			got, err := issuer.Resolve(context.Background(), minted.Token)
			if err != nil {
				t.Fatal(err)
			}
			if got == nil {
				t.Fatal("expected the token to resolve before expiry")
			}
			if got.Principal != "alice" || got.PrincipalType != trust.PrincipalUser {
				t.Fatalf("principal mismatch: %+v", got)
			}
			if !got.IsAdmin {
				t.Fatal("admin flag lost in round trip")
			}
			if len(got.Groups) != 2 || got.Groups[0] != "dev-team" || got.Groups[1] != "ops-team" {
				t.Fatalf("groups mismatch: %v", got.Groups)
			}
			if got.RefreshCount != 3 {
				t.Fatalf("refresh count mismatch: %d", got.RefreshCount)
			}
		})
	}
}

func TestResolve_ExpiredIsNotFound(t *testing.T) {
	for _, mode := range []string{"OPAQUE", "JWT"} {
		t.Run(mode, func(t *testing.T) {
			issuer := tokensrv.NewIssuer(newMemRepo(), newMemBlocklist(), testConfig(mode))
			p := trust.NewUserPrincipal("alice", nil)

			minted, err := issuer.Generate(context.Background(), p, false, -time.Minute, 0)
			if err != nil {
				t.Fatal(err)
			}

			got, err := issuer.Resolve(context.Background(), minted.Token)
			if err != nil {
				t.Fatalf("expired must not be a distinct error, got %v", err)
			}
			if got != nil {
				t.Fatal("expired token must resolve to nothing")
			}
		})
	}
}

func TestRevoke_SignedUsesBlocklist(t *testing.T) {
	blocklist := newMemBlocklist()
	issuer := tokensrv.NewIssuer(newMemRepo(), blocklist, testConfig("JWT"))
	p := trust.NewUserPrincipal("alice", nil)

	minted, err := issuer.Generate(context.Background(), p, false, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := issuer.Revoke(context.Background(), minted); err != nil {
		t.Fatal(err)
	}

	// Until the verifier refreshes its blocklist the JWT still resolves:
	// signature and expiry are individually valid.
	got, err := issuer.Resolve(context.Background(), minted.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("revocation must not be visible before the blocklist refresh")
	}

	if err := blocklist.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err = issuer.Resolve(context.Background(), minted.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("revoked JWT must not resolve after the blocklist refresh")
	}
}

func TestRevoke_OpaqueIsImmediate(t *testing.T) {
	repo := newMemRepo()
	issuer := tokensrv.NewIssuer(repo, newMemBlocklist(), testConfig("OPAQUE"))
	p := trust.NewUserPrincipal("alice", nil)

	minted, err := issuer.Generate(context.Background(), p, false, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := issuer.Revoke(context.Background(), minted); err != nil {
		t.Fatal(err)
	}

	got, err := issuer.Resolve(context.Background(), minted.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("revoked opaque token must not resolve")
	}
}

func TestRefresh_AtMaxFailsWithoutSideEffects(t *testing.T) {
	repo := newMemRepo()
	issuer := tokensrv.NewIssuer(repo, newMemBlocklist(), testConfig("OPAQUE"))
	p := trust.NewUserPrincipal("alice", []string{"dev-team"})

	minted, err := issuer.Generate(context.Background(), p, false, time.Hour, 2) // == MaxRefreshCount
	if err != nil {
		t.Fatal(err)
	}
	createsBefore, deletesBefore := repo.creates, repo.deletes

	if _, err := issuer.Refresh(context.Background(), minted); err == nil {
		t.Fatal("refresh at the max count must fail")
	} else {
		var e *errx.Error
		if !errx.As(err, &e) || e.Code != token.CodeRefreshExhausted.Code {
			t.Fatalf("expected refresh-exhausted error, got %v", err)
		}
	}

	if repo.creates != createsBefore || repo.deletes != deletesBefore {
		t.Fatal("failed refresh must neither revoke nor reissue")
	}

	got, err := issuer.Resolve(context.Background(), minted.Token)
	if err != nil || got == nil {
		t.Fatalf("original token must survive a refused refresh, got %v %v", got, err)
	}
}

func TestRefresh_RevokesOldAndIncrementsCount(t *testing.T) {
	repo := newMemRepo()
	issuer := tokensrv.NewIssuer(repo, newMemBlocklist(), testConfig("OPAQUE"))
	p := trust.NewUserPrincipal("alice", []string{"dev-team"})

	minted, err := issuer.Generate(context.Background(), p, true, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}

	refreshed, err := issuer.Refresh(context.Background(), minted)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.RefreshCount != 1 {
		t.Fatalf("expected refresh count 1, got %d", refreshed.RefreshCount)
	}
	if !refreshed.IsAdmin || len(refreshed.Groups) != 1 || refreshed.Groups[0] != "dev-team" {
		t.Fatalf("refresh must preserve admin flag and groups: %+v", refreshed)
	}

	old, err := issuer.Resolve(context.Background(), minted.Token)
	if err != nil {
		t.Fatal(err)
	}
	if old != nil {
		t.Fatal("old token must be revoked before the new one is handed back")
	}
}

func TestRefresh_RejectsIAMTokens(t *testing.T) {
	issuer := tokensrv.NewIssuer(newMemRepo(), newMemBlocklist(), testConfig("OPAQUE"))
	p := trust.NewIAMPrincipal("arn:aws:iam::123:role/abc")

	minted, err := issuer.Generate(context.Background(), p, false, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Refresh(context.Background(), minted); err == nil {
		t.Fatal("IAM tokens must not refresh")
	}
}

func TestResolve_AcceptModeGates(t *testing.T) {
	opaqueCfg := testConfig("OPAQUE")
	jwtCfg := testConfig("JWT")
	repo := newMemRepo()
	blocklist := newMemBlocklist()

	opaqueTok, err := tokensrv.NewIssuer(repo, blocklist, opaqueCfg).
		Generate(context.Background(), trust.NewUserPrincipal("alice", nil), false, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}
	jwtTok, err := tokensrv.NewIssuer(repo, blocklist, jwtCfg).
		Generate(context.Background(), trust.NewUserPrincipal("alice", nil), false, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}

	jwtOnly := testConfig("OPAQUE")
	jwtOnly.AcceptMode = "JWT_ONLY"
	if got, _ := tokensrv.NewIssuer(repo, blocklist, jwtOnly).Resolve(context.Background(), opaqueTok.Token); got != nil {
		t.Fatal("JWT_ONLY must not resolve opaque tokens")
	}

	opaqueOnly := testConfig("OPAQUE")
	opaqueOnly.AcceptMode = "OPAQUE_ONLY"
	if got, _ := tokensrv.NewIssuer(repo, blocklist, opaqueOnly).Resolve(context.Background(), jwtTok.Token); got != nil {
		t.Fatal("OPAQUE_ONLY must not resolve JWTs")
	}
}

func TestResolve_RejectsTamperedSignature(t *testing.T) {
	issuer := tokensrv.NewIssuer(newMemRepo(), newMemBlocklist(), testConfig("JWT"))
	minted, err := issuer.Generate(context.Background(), trust.NewUserPrincipal("alice", nil), false, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}

	other := testConfig("JWT")
	other.SigningKeys = map[string][]byte{"k1": []byte("a-different-secret")}
	got, err := tokensrv.NewIssuer(newMemRepo(), newMemBlocklist(), other).
		Resolve(context.Background(), minted.Token)
	if err != nil {
		t.Fatalf("bad signature must not surface as an error, got %v", err)
	}
	if got != nil {
		t.Fatal("token signed with a different key must not resolve")
	}
}
