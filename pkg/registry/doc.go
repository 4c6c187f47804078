// Package registry owns subscriber registrations and their lifecycle.
//
// Register implements the AWS mobile push token algorithm: endpoint
// creation is idempotent per device token, a stored handle whose gateway
// endpoint disappeared is recreated, and diverged token or enabled state
// is pushed back to the gateway. Unregister and Switch keep tag
// memberships consistent with the registration they belong to.
package registry
