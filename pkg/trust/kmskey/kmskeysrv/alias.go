package kmskeysrv

import "fmt"

// aliasPrefix is required by AWS on every alias name.
const aliasPrefix = "alias/"

// maxAliasLength is the AWS ceiling on alias names, prefix included.
const maxAliasLength = 256

// AliasFor builds the deterministic alias for a principal's key:
// alias/<env>-<account>-<descriptor>-<uniqueID>. When the name would
// exceed the provider ceiling, only the descriptor is truncated; the
// prefix and the trailing unique id always survive intact.
func AliasFor(environment, accountID, roleDescriptor, uniqueID string) string {
	fixed := len(aliasPrefix) + len(environment) + 1 + len(accountID) + 1 + 1 + len(uniqueID)
	if budget := maxAliasLength - fixed; len(roleDescriptor) > budget {
		if budget < 0 {
			budget = 0
		}
		roleDescriptor = roleDescriptor[:budget]
	}
	return fmt.Sprintf("%s%s-%s-%s-%s", aliasPrefix, environment, accountID, roleDescriptor, uniqueID)
}
