package executor

import "kalshi-agent/internal/domain"

// Capability is the order-submission surface the Executor drives, aliased
// from domain.Execution so both the live and paper implementations can be
// verified against it with the same compile-time interface-satisfaction
// check (var _ Capability = (*PaperExecutor)(nil) in paper.go, and the
// same for LiveExecution in live.go).
type Capability = domain.Execution
