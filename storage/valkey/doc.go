// Package valkey provides a Valkey-backed storage.FlowStore.
//
// Pending OAuth authorizations are stored as JSON under
// "<prefix>pending:<state>" with a TTL equal to the authorization's
// remaining lifetime. Consumption uses GETDEL, which makes the one-time use
// of a state atomic across broker replicas.
//
// Usage:
//
//	flows, err := valkey.New(valkey.Config{
//		Address:   "valkey:6379",
//		KeyPrefix: "team-broker:",
//	})
//	if err != nil {
//		return err
//	}
//	defer flows.Close()
package valkey
