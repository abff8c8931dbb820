// Package storage defines the persistence interfaces and models of the broker.
//
//   - UserStore, TeamStore, CredentialStore (together Store): relational data
//   - FlowStore: short-lived pending OAuth authorizations
//
// Implementations:
//   - storage/memory: everything, for tests and single-instance deployments
//   - storage/postgres: Store on PostgreSQL
//   - storage/valkey: FlowStore on Valkey, shared between broker replicas
//
// Credential secrets arrive at the store already sealed by the vault.
package storage
