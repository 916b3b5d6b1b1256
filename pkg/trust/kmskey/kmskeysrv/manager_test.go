package kmskeysrv_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey/kmskeysrv"
)

type memRepo struct {
	records map[string]kmskey.CMKRecord // id -> record
	creates int
	updates int
	deletes int
}

func newMemRepo() *memRepo { return &memRepo{records: map[string]kmskey.CMKRecord{}} }

func (m *memRepo) Get(_ context.Context, roleID kernel.RoleID, region kernel.Region) (*kmskey.CMKRecord, error) {
	for _, rec := range m.records {
		if rec.RoleID == roleID && rec.Region == region {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memRepo) Create(_ context.Context, rec kmskey.CMKRecord) error {
	m.creates++
	m.records[rec.ID] = rec
	return nil
}

func (m *memRepo) Update(_ context.Context, rec kmskey.CMKRecord) error {
	m.updates++
	m.records[rec.ID] = rec
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.deletes++
	delete(m.records, id)
	return nil
}

func (m *memRepo) ListInactiveOrOrphaned(_ context.Context, cutoff time.Time) ([]kmskey.CMKRecord, error) {
	var out []kmskey.CMKRecord
	for _, rec := range m.records {
		if rec.LastValidatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type mockProvider struct {
	createKeys       int
	createAliases    int
	getPolicies      int
	putPolicies      int
	scheduleDeletes  int
	policyDocument   string
	getPolicyErr     error
	scheduleDelErrFn func() error
	lastPutPolicy    string
	lastAlias        string
	lastPendingDays  int
}

func (p *mockProvider) CreateKey(_ context.Context, _ kernel.Region, _ string) (string, error) {
	p.createKeys++
	return "arn:aws:kms:us-west-2:999:key/test-key", nil
}

func (p *mockProvider) CreateAlias(_ context.Context, _ kernel.Region, aliasName, _ string) error {
	p.createAliases++
	p.lastAlias = aliasName
	return nil
}

func (p *mockProvider) GetKeyPolicy(_ context.Context, _ kernel.Region, _ string) (string, error) {
	p.getPolicies++
	if p.getPolicyErr != nil {
		return "", p.getPolicyErr
	}
	return p.policyDocument, nil
}

func (p *mockProvider) PutKeyPolicy(_ context.Context, _ kernel.Region, _ string, policyJSON string) error {
	p.putPolicies++
	p.lastPutPolicy = policyJSON
	return nil
}

func (p *mockProvider) Encrypt(_ context.Context, _ kernel.Region, _ string, plaintext []byte) ([]byte, error) {
	return append([]byte("enc:"), plaintext...), nil
}

func (p *mockProvider) ScheduleKeyDeletion(_ context.Context, _ kernel.Region, _ string, pendingDays int) error {
	p.scheduleDeletes++
	p.lastPendingDays = pendingDays
	if p.scheduleDelErrFn != nil {
		return p.scheduleDelErrFn()
	}
	return nil
}

func (p *mockProvider) DescribeKey(_ context.Context, _ kernel.Region, _ string) (string, error) {
	return "Enabled", nil
}

func testCfg() *config.KMSConfig {
	return &config.KMSConfig{
		Environment:          "test",
		AccountID:            "999888777666",
		RevalidationInterval: time.Hour,
		DeletionPendingDays:  7,
		SweepCooldown:        time.Millisecond,
	}
}

const principalArn = "arn:aws:iam::123:role/abc"

func TestGetOrProvisionKey_FirstUse(t *testing.T) {
	repo := newMemRepo()
	provider := &mockProvider{}
	mgr := kmskeysrv.NewManager(repo, provider, testCfg())

	before := time.Now().UTC()
	keyArn, err := mgr.GetOrProvisionKey(context.Background(), "role-1", principalArn, "us-west-2")
	if err != nil {
		t.Fatal(err)
	}
	if keyArn == "" {
		t.Fatal("expected a key ARN")
	}
	if provider.createKeys != 1 || provider.createAliases != 1 {
		t.Fatalf("expected exactly one CreateKey and one CreateAlias, got %d/%d",
			provider.createKeys, provider.createAliases)
	}
	if repo.creates != 1 {
		t.Fatalf("expected exactly one persisted record, got %d", repo.creates)
	}
	if !strings.HasPrefix(provider.lastAlias, "alias/test-999888777666-abc-") {
		t.Fatalf("unexpected alias %q", provider.lastAlias)
	}
	for _, rec := range repo.records {
		if rec.LastValidatedAt.Before(before) {
			t.Fatal("new record must be marked validated now")
		}
	}

	// Second call inside the revalidation interval: no policy calls.
	if _, err := mgr.GetOrProvisionKey(context.Background(), "role-1", principalArn, "us-west-2"); err != nil {
		t.Fatal(err)
	}
	if provider.getPolicies != 0 || provider.putPolicies != 0 {
		t.Fatalf("expected zero policy calls inside the interval, got %d/%d",
			provider.getPolicies, provider.putPolicies)
	}
	if provider.createKeys != 1 {
		t.Fatal("second call must not create another key")
	}
}

func seedRecord(repo *memRepo, validatedAt time.Time) kmskey.CMKRecord {
	rec := kmskey.CMKRecord{
		ID:              "rec-1",
		RoleID:          "role-1",
		KeyArn:          "arn:aws:kms:us-west-2:999:key/test-key",
		Region:          "us-west-2",
		CreatedAt:       validatedAt,
		UpdatedAt:       validatedAt,
		LastValidatedAt: validatedAt,
	}
	repo.records[rec.ID] = rec
	return rec
}

func TestValidate_MatchingPolicyOnlyFetches(t *testing.T) {
	repo := newMemRepo()
	seedRecord(repo, time.Now().UTC().Add(-2*time.Hour))

	document, err := kmskey.NewKeyPolicy("999888777666", principalArn).JSON()
	if err != nil {
		t.Fatal(err)
	}
	provider := &mockProvider{policyDocument: document}
	mgr := kmskeysrv.NewManager(repo, provider, testCfg())

	if _, err := mgr.GetOrProvisionKey(context.Background(), "role-1", principalArn, "us-west-2"); err != nil {
		t.Fatal(err)
	}
	if provider.getPolicies != 1 {
		t.Fatalf("expected exactly one GetKeyPolicy, got %d", provider.getPolicies)
	}
	if provider.putPolicies != 0 {
		t.Fatal("matching policy must not be rewritten")
	}
	if repo.updates != 1 {
		t.Fatal("successful validation must update the record")
	}
}

func TestValidate_DriftedPrincipalIsRepaired(t *testing.T) {
	repo := newMemRepo()
	seedRecord(repo, time.Now().UTC().Add(-2*time.Hour))

	// The provider quirk: a recreated identity shows up as an opaque
	// internal id even though the ARN never changed.
	drifted, err := kmskey.NewKeyPolicy("999888777666", "AROAEXAMPLEINTERNALID").JSON()
	if err != nil {
		t.Fatal(err)
	}
	provider := &mockProvider{policyDocument: drifted}
	mgr := kmskeysrv.NewManager(repo, provider, testCfg())

	if _, err := mgr.GetOrProvisionKey(context.Background(), "role-1", principalArn, "us-west-2"); err != nil {
		t.Fatal(err)
	}
	if provider.getPolicies != 1 || provider.putPolicies != 1 {
		t.Fatalf("expected one fetch and one repair, got %d/%d",
			provider.getPolicies, provider.putPolicies)
	}
	if !strings.Contains(provider.lastPutPolicy, principalArn) {
		t.Fatal("repaired policy must grant decrypt to the principal ARN")
	}
}

func TestValidate_GoneKeyDeletesRecord(t *testing.T) {
	repo := newMemRepo()
	seedRecord(repo, time.Now().UTC().Add(-2*time.Hour))

	provider := &mockProvider{getPolicyErr: errx.New("key not found", errx.TypeNotFound)}
	mgr := kmskeysrv.NewManager(repo, provider, testCfg())

	// Validation must not fail the live call even though the key is gone.
	if _, err := mgr.GetOrProvisionKey(context.Background(), "role-1", principalArn, "us-west-2"); err != nil {
		t.Fatal(err)
	}
	if repo.deletes != 1 || len(repo.records) != 0 {
		t.Fatal("gone key must delete the stale record")
	}

	// Next call re-provisions from scratch.
	if _, err := mgr.GetOrProvisionKey(context.Background(), "role-1", principalArn, "us-west-2"); err != nil {
		t.Fatal(err)
	}
	if provider.createKeys != 1 {
		t.Fatalf("expected re-provisioning after self-heal, got %d creates", provider.createKeys)
	}
}

func TestValidate_ProviderErrorIsSwallowed(t *testing.T) {
	repo := newMemRepo()
	seedRecord(repo, time.Now().UTC().Add(-2*time.Hour))

	provider := &mockProvider{getPolicyErr: errx.New("throttled", errx.TypeExternal)}
	mgr := kmskeysrv.NewManager(repo, provider, testCfg())

	keyArn, err := mgr.GetOrProvisionKey(context.Background(), "role-1", principalArn, "us-west-2")
	if err != nil {
		t.Fatalf("validation failure must never fail a live authentication: %v", err)
	}
	if keyArn == "" {
		t.Fatal("stored key ARN must still be returned")
	}
	if repo.updates != 0 {
		t.Fatal("failed validation must not advance the validation time")
	}
}

func TestAliasFor_PrefixAndCeiling(t *testing.T) {
	longDescriptor := strings.Repeat("very-long-role-path-segment-", 20)
	alias := kmskeysrv.AliasFor("production", "999888777666", longDescriptor, "0f8fad5b-d9cb-469f-a165-70867728950e")

	if !strings.HasPrefix(alias, "alias/") {
		t.Fatalf("alias must start with the required prefix: %q", alias)
	}
	if len(alias) > 256 {
		t.Fatalf("alias exceeds the provider ceiling: %d chars", len(alias))
	}
	if !strings.HasSuffix(alias, "0f8fad5b-d9cb-469f-a165-70867728950e") {
		t.Fatal("trailing unique id must survive truncation")
	}

	short := kmskeysrv.AliasFor("production", "999888777666", "abc", "uid-1")
	if short != "alias/production-999888777666-abc-uid-1" {
		t.Fatalf("unexpected alias for short descriptor: %q", short)
	}
}

func TestScheduleDeletion_EnforcesMinimumWindow(t *testing.T) {
	provider := &mockProvider{}
	mgr := kmskeysrv.NewManager(newMemRepo(), provider, testCfg())

	if err := mgr.ScheduleDeletion(context.Background(), "us-west-2", "key-1", 1); err != nil {
		t.Fatal(err)
	}
	if provider.lastPendingDays != 7 {
		t.Fatalf("pending window must be floored at 7 days, got %d", provider.lastPendingDays)
	}
}

func TestSweep_OneFailureDoesNotAbort(t *testing.T) {
	repo := newMemRepo()
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	for _, id := range []string{"rec-a", "rec-b", "rec-c"} {
		rec := seedRecord(repo, old)
		rec.ID = id
		rec.RoleID = kernel.RoleID(id)
		repo.records[id] = rec
	}
	delete(repo.records, "rec-1")

	provider := &mockProvider{}
	cfg := testCfg()
	mgr := kmskeysrv.NewManager(repo, provider, cfg)

	// Fail deletion scheduling for the second record only.
	calls := 0
	provider.scheduleDelErrFn = func() error {
		calls++
		if calls == 2 {
			return errx.New("throttled", errx.TypeExternal)
		}
		return nil
	}

	swept, err := mgr.SweepInactiveOrOrphaned(context.Background(), 90*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 2 {
		t.Fatalf("expected the two healthy items swept despite one failure, got %d", swept)
	}
	if len(repo.records) != 1 {
		t.Fatalf("failed item must be retried next cycle, got %d remaining", len(repo.records))
	}
}
