package kmskeyinfra

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey"
)

// keyPolicyName is the only policy name KMS supports.
const keyPolicyName = "default"

// AWSKeyProvider implements kmskey.KeyProvider on the AWS KMS service.
// Clients are built lazily per region from one shared base config.
type AWSKeyProvider struct {
	cfg aws.Config

	mu      sync.Mutex
	clients map[kernel.Region]*kms.Client
}

// NewAWSKeyProvider creates the provider from a loaded AWS config.
func NewAWSKeyProvider(cfg aws.Config) *AWSKeyProvider {
	return &AWSKeyProvider{cfg: cfg, clients: make(map[kernel.Region]*kms.Client)}
}

func (p *AWSKeyProvider) client(region kernel.Region) *kms.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[region]; ok {
		return c
	}
	c := kms.NewFromConfig(p.cfg, func(o *kms.Options) {
		o.Region = region.String()
	})
	p.clients[region] = c
	return c
}

// mapError translates the provider's "key does not exist" into
// errx.TypeNotFound so callers can self-heal stale records.
func mapError(err error, msg string) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return errx.Wrap(err, msg, errx.TypeNotFound)
	}
	return errx.Wrap(err, msg, errx.TypeExternal)
}

// CreateKey creates a symmetric CMK with the given initial policy and
// returns its ARN.
func (p *AWSKeyProvider) CreateKey(ctx context.Context, region kernel.Region, policyJSON string) (string, error) {
	out, err := p.client(region).CreateKey(ctx, &kms.CreateKeyInput{
		Policy:      aws.String(policyJSON),
		Description: aws.String("strongroom per-principal key"),
	})
	if err != nil {
		return "", mapError(err, "kms create key failed")
	}
	return aws.ToString(out.KeyMetadata.Arn), nil
}

// CreateAlias points aliasName at the key.
func (p *AWSKeyProvider) CreateAlias(ctx context.Context, region kernel.Region, aliasName, keyArn string) error {
	_, err := p.client(region).CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(aliasName),
		TargetKeyId: aws.String(keyArn),
	})
	if err != nil {
		return mapError(err, "kms create alias failed")
	}
	return nil
}

// GetKeyPolicy fetches the key's policy document.
func (p *AWSKeyProvider) GetKeyPolicy(ctx context.Context, region kernel.Region, keyID string) (string, error) {
	out, err := p.client(region).GetKeyPolicy(ctx, &kms.GetKeyPolicyInput{
		KeyId:      aws.String(keyID),
		PolicyName: aws.String(keyPolicyName),
	})
	if err != nil {
		return "", mapError(err, "kms get key policy failed")
	}
	return aws.ToString(out.Policy), nil
}

// PutKeyPolicy replaces the key's policy document.
func (p *AWSKeyProvider) PutKeyPolicy(ctx context.Context, region kernel.Region, keyID, policyJSON string) error {
	_, err := p.client(region).PutKeyPolicy(ctx, &kms.PutKeyPolicyInput{
		KeyId:      aws.String(keyID),
		PolicyName: aws.String(keyPolicyName),
		Policy:     aws.String(policyJSON),
	})
	if err != nil {
		return mapError(err, "kms put key policy failed")
	}
	return nil
}

// Encrypt encrypts plaintext under the key.
func (p *AWSKeyProvider) Encrypt(ctx context.Context, region kernel.Region, keyID string, plaintext []byte) ([]byte, error) {
	out, err := p.client(region).Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, mapError(err, "kms encrypt failed")
	}
	return out.CiphertextBlob, nil
}

// ScheduleKeyDeletion starts the key's deletion countdown.
func (p *AWSKeyProvider) ScheduleKeyDeletion(ctx context.Context, region kernel.Region, keyID string, pendingDays int) error {
	_, err := p.client(region).ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(keyID),
		PendingWindowInDays: aws.Int32(int32(pendingDays)),
	})
	if err != nil {
		return mapError(err, "kms schedule key deletion failed")
	}
	return nil
}

// DescribeKey returns the key's lifecycle state.
func (p *AWSKeyProvider) DescribeKey(ctx context.Context, region kernel.Region, keyID string) (string, error) {
	out, err := p.client(region).DescribeKey(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return "", mapError(err, "kms describe key failed")
	}
	return string(out.KeyMetadata.KeyState), nil
}

var _ kmskey.KeyProvider = (*AWSKeyProvider)(nil)
