// Package arn classifies and normalizes AWS IAM principal ARNs.
//
// Permission grants and CMK policies are recorded against IAM role ARNs,
// but principals frequently authenticate through other forms of the same
// identity: an STS assumed-role session, or an instance-profile style
// path. This package derives the canonical forms the rest of the trust
// core compares against.
package arn

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/strongroom-io/strongroom/pkg/errx"
)

const (
	serviceIAM = "iam"
	serviceSTS = "sts"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// ErrMalformed reports an ARN that does not have the six colon-separated
// fields every AWS ARN carries.
func ErrMalformed(raw string) *errx.Error {
	return errx.New(fmt.Sprintf("malformed ARN %q", raw), errx.TypeValidation)
}

// parsed is the decomposed form of arn:partition:service:region:account:resource.
type parsed struct {
	partition string
	service   string
	account   string
	resource  string
}

func parse(raw string) (parsed, error) {
	parts := strings.SplitN(raw, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" {
		return parsed{}, ErrMalformed(raw)
	}
	p := parsed{
		partition: parts[1],
		service:   parts[2],
		account:   parts[4],
		resource:  parts[5],
	}
	if p.resource == "" || p.account == "" {
		return parsed{}, ErrMalformed(raw)
	}
	return p, nil
}

// IsRoleArn reports whether raw is a plain IAM role ARN
// (arn:aws:iam::account:role/...).
func IsRoleArn(raw string) bool {
	p, err := parse(raw)
	if err != nil {
		return false
	}
	return p.service == serviceIAM && strings.HasPrefix(p.resource, "role/")
}

// IsAssumedRoleArn reports whether raw is an STS assumed-role session ARN
// (arn:aws:sts::account:assumed-role/RoleName/session).
func IsAssumedRoleArn(raw string) bool {
	p, err := parse(raw)
	if err != nil {
		return false
	}
	return p.service == serviceSTS && strings.HasPrefix(p.resource, "assumed-role/")
}

// BaseRoleArn derives the IAM role ARN backing raw.
//
// A role ARN maps to itself. An assumed-role session ARN drops the session
// segment and moves to the iam service. An instance-profile ARN maps to
// the role of the same name, which is how AWS creates them by default.
// Any other form is returned unchanged with ok=false, letting callers
// fall back to the literal ARN.
func BaseRoleArn(raw string) (string, bool) {
	p, err := parse(raw)
	if err != nil {
		return raw, false
	}
	if p.service == serviceIAM && strings.HasPrefix(p.resource, "role/") {
		return raw, true
	}
	if p.service == serviceSTS && strings.HasPrefix(p.resource, "assumed-role/") {
		segments := strings.Split(p.resource, "/")
		if len(segments) < 2 || segments[1] == "" {
			return raw, false
		}
		return fmt.Sprintf("arn:%s:iam::%s:role/%s", p.partition, p.account, segments[1]), true
	}
	if p.service == serviceIAM && strings.HasPrefix(p.resource, "instance-profile/") {
		name := strings.TrimPrefix(p.resource, "instance-profile/")
		if name == "" {
			return raw, false
		}
		return fmt.Sprintf("arn:%s:iam::%s:role/%s", p.partition, p.account, name), true
	}
	return raw, false
}

// AccountRootArn derives the account-root principal ARN for raw
// (arn:aws:iam::account:root), the form AWS substitutes for any principal
// of the account in some policy evaluations.
func AccountRootArn(raw string) (string, error) {
	p, err := parse(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arn:%s:iam::%s:root", p.partition, p.account), nil
}

// AccountID extracts the twelve-digit account id of raw.
func AccountID(raw string) (string, error) {
	p, err := parse(raw)
	if err != nil {
		return "", err
	}
	return p.account, nil
}

// RoleDescriptor derives an alias-safe descriptor from the resource path
// of raw: path segments joined by hyphens, non-alphanumeric runs
// collapsed. "role/service/payments/reader" becomes
// "service-payments-reader".
func RoleDescriptor(raw string) (string, error) {
	p, err := parse(raw)
	if err != nil {
		return "", err
	}
	resource := p.resource
	for _, prefix := range []string{"role/", "assumed-role/", "user/", "instance-profile/"} {
		if strings.HasPrefix(resource, prefix) {
			resource = strings.TrimPrefix(resource, prefix)
			break
		}
	}
	descriptor := nonAlphanumeric.ReplaceAllString(strings.ReplaceAll(resource, "/", "-"), "-")
	descriptor = strings.Trim(descriptor, "-")
	if descriptor == "" {
		return "", ErrMalformed(raw)
	}
	return descriptor, nil
}
