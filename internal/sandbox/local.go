package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// LocalSandbox runs an activation's workspace directly on the runner
// host, isolated only by a per-activation temp directory. It is the
// development/MVP mode, grounded on LocalSandbox in the reference
// runner/sandbox.py; a container-backed Sandbox is out of scope for
// this core (spec.md §1(c) treats sandbox internals as opaque).
type LocalSandbox struct {
	log       *slog.Logger
	workspace string
}

// NewLocalSandbox creates a LocalSandbox.
func NewLocalSandbox(log *slog.Logger) *LocalSandbox {
	if log == nil {
		log = slog.Default()
	}
	return &LocalSandbox{log: log}
}

// Start creates a fresh temp workspace directory for agentName.
func (s *LocalSandbox) Start(ctx context.Context, agentName string) error {
	dir, err := os.MkdirTemp("", fmt.Sprintf("agent-%s-", agentName))
	if err != nil {
		return fmt.Errorf("sandbox: create workspace: %w", err)
	}
	s.workspace = dir
	s.log.Info("sandbox_started", "workspace", dir)
	return nil
}

// Execute is a placeholder opaque step: this core does not implement
// the agentic tool-execution loop itself (spec.md §1(b)/(c)); a real
// deployment wires an executor.Executor that talks to the sandbox over
// whatever protocol the concrete sandbox implementation exposes.
func (s *LocalSandbox) Execute(ctx context.Context, input []byte) ([]byte, error) {
	return nil, fmt.Errorf("sandbox: Execute is not implemented by LocalSandbox; wire a concrete executor")
}

// Stop removes the workspace directory. Safe to call even if Start
// failed or was never called.
func (s *LocalSandbox) Stop(ctx context.Context) error {
	if s.workspace == "" {
		return nil
	}
	if err := os.RemoveAll(s.workspace); err != nil {
		s.log.Warn("workspace_cleanup_error", "workspace", s.workspace, "error", err)
		return err
	}
	s.log.Info("sandbox_stopped", "workspace", s.workspace)
	s.workspace = ""
	return nil
}

// Workspace returns the sandbox's current workspace directory, or "" if
// Start has not been called.
func (s *LocalSandbox) Workspace() string {
	return s.workspace
}
