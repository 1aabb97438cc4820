// Package domain holds the core entity types shared by every control-plane
// component: wallets, protocols, positions, snapshots, risk state,
// allocation targets, tasks, proposals, outcomes, and events.
package domain

// ChainFamily identifies the execution environment a Wallet's address is
// valid on (evm, svm, cosmos-sdk, ...). Strings, not an enum, so new chain
// families never require a recompile of the core.
type ChainFamily string

// Wallet is immutable after registration: identifier, chain family, and
// address never change once a wallet is known to the system.
type Wallet struct {
	ID          string
	ChainFamily ChainFamily
	Address     string
}

// ActionKind identifies a category of on-chain operation a Protocol
// adapter can perform (bridge, swap, stake, restake, claim, lend, borrow,
// provide_liquidity, ...).
type ActionKind string

// Protocol describes a farmable integration: the action kinds it supports
// and the weight bounds the Capital Allocator must respect for it.
type Protocol struct {
	ID           string
	ChainFamily  ChainFamily
	ActionKinds  []ActionKind
	MinWeight    float64 // w_min
	MaxWeight    float64 // w_max
	RiskMultiplier float64 // used by the risk-adjusted allocation algorithm
	Enabled      bool
}

// Validate checks the bound invariant 0 ≤ w_min ≤ w_max ≤ 1 for a single
// protocol. Sum-across-protocols checks live in the allocator, which has
// visibility into the whole enabled set.
func (p Protocol) Validate() error {
	if p.ID == "" {
		return errInvalidConfig("protocol id must not be empty")
	}
	if p.MinWeight < 0 || p.MaxWeight > 1 || p.MinWeight > p.MaxWeight {
		return errInvalidConfig("protocol %s: weight bounds [%v,%v] violate 0<=min<=max<=1", p.ID, p.MinWeight, p.MaxWeight)
	}
	return nil
}
