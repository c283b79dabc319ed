// Package sandbox defines the opaque isolated-execution boundary the
// runner state machine starts and stops around an activation. Per
// spec.md's scope, the sandbox's internal tool execution is out of
// scope for this core: Start, Stop, and Execute are invoked as opaque
// operations. Grounded on BaseSandbox/LocalSandbox in the reference
// runner/sandbox.py, reduced to the boundary the runner actually needs.
package sandbox

import "context"

// Sandbox is the isolated environment an activation runs inside.
type Sandbox interface {
	// Start provisions the sandbox (e.g. a workspace directory or
	// container) for agentName.
	Start(ctx context.Context, agentName string) error
	// Execute runs one opaque activation step inside the sandbox and
	// returns its raw output for the executor to interpret.
	Execute(ctx context.Context, input []byte) ([]byte, error)
	// Stop tears the sandbox down. It must be safe to call after a
	// failed or partial Start.
	Stop(ctx context.Context) error
}

// Factory constructs a fresh Sandbox per activation, so state never
// leaks between agents sharing a runner process.
type Factory func() Sandbox
