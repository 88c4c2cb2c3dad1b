package executor

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"matcher/apps/executor/internal/model"
)

// Settler is the part of a chain connector the matching cycle needs.
type Settler interface {
	Network() string
	SettlementAddress() common.Address
	VerifySignature(ctx context.Context, o model.SignedOrder, sig []byte) bool
	AvailableToFill(ctx context.Context, o model.SignedOrder) *big.Int
	Allowance(ctx context.Context, token, owner, spender common.Address) *big.Int
	BalanceOf(ctx context.Context, token, owner common.Address) *big.Int
	MatchOrders(ctx context.Context, buy model.SignedOrder, sigBuy []byte, sell model.SignedOrder, sigSell []byte, amountBase, amountQuote *big.Int) (model.TxRef, error)
}

// Network is the per-chain execution context. Its busy guard keeps at most one matching
// cycle in flight per network.
type Network struct {
	Name    string
	Settler Settler

	busy sync.Mutex
}

func NewNetwork(name string, settler Settler) *Network {
	return &Network{Name: name, Settler: settler}
}

// TryAcquire claims the network for a cycle. It never blocks.
func (n *Network) TryAcquire() bool {
	return n.busy.TryLock()
}

func (n *Network) Release() {
	n.busy.Unlock()
}
