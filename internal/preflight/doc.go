// Package preflight validates a planned deployment against live host state
// and records the outcome per node and check item in a Ledger.
//
// Checks are entries of a catalogue, each scoped to a node, a host or the
// whole deployment and limited to some components and versions:
//   - port: collisions between nodes and sockets already listening
//   - mem: host demand against free memory, limits and system reserve
//   - disk: demand per filesystem, shared data and log
//   - dir: target directories absent or empty
//   - ulimit, aio, kernel: OS limits scaled by the nodes on a host
//   - net: device presence, locality and reachability between hosts
//   - ntp: clock spread across hosts
//   - tenant: room for the management console's tenants
//
// Use the Checker type to run a pass:
//
//	checker := preflight.New(preflight.WithFacts(facts), preflight.WithProber(prober))
//	ledger, err := checker.RunChecks(ctx, nodes, table, preflight.Policy{})
//	if ledger.Failed() {
//	    // Handle failures
//	}
package preflight
