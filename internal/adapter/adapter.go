// Package adapter defines the Protocol Adapter contract consumed by the
// core (§6): a uniform, capability-based callable surface the Scheduler
// Engine invokes without knowledge of any adapter's RPC/signing/ABI
// internals.
package adapter

import (
	"context"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// Estimate is the adapter's pre-flight sizing for a proposed action.
type Estimate struct {
	NotionalUSD float64
	GasEstimate float64
	Slippage    float64
}

// Protocol is implemented by every protocol adapter. Adapters are values,
// not a virtual hierarchy — capability is expressed by which action kinds
// Capabilities() reports, never by type assertion or inheritance.
type Protocol interface {
	ID() string
	Capabilities() []domain.ActionKind
	Estimate(ctx context.Context, kind domain.ActionKind, params map[string]any) (Estimate, error)
	Execute(ctx context.Context, kind domain.ActionKind, params map[string]any, deadline time.Time) (domain.ActionOutcome, error)
}

// ErrorKind is the taxonomy of adapter failures the core recognizes
// (§6). Unknown errors are treated as TransientRpc for one retry, then
// PermanentConfig.
type ErrorKind = domain.OutcomeErrorKind

// ClassifyError maps an arbitrary adapter error to an ErrorKind, falling
// back to TransientRpc so the caller gets exactly one more attempt before
// AsPermanent promotes it.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	type kinded interface{ Kind() ErrorKind }
	if k, ok := err.(kinded); ok {
		return k.Kind()
	}
	return domain.ErrTransientRpc
}

// AsPermanent reports whether kind should move a TaskInstance straight to
// FAILED_PERMANENT rather than retry.
func AsPermanent(kind ErrorKind) bool {
	switch kind {
	case domain.ErrInsufficientBal, domain.ErrReverted, domain.ErrPermanentConfig:
		return true
	default:
		return false
	}
}
