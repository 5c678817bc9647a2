package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reports the next nonce the network expects for an account.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceAllocator serializes nonce use for one signing address. The nonce
// is fetched fresh on every call and never falls below the last one handed
// out, so a lagging node cannot cause reuse.
type NonceAllocator struct {
	mu      sync.Mutex
	source  NonceSource
	address common.Address
	next    uint64
	synced  bool
}

func NewNonceAllocator(source NonceSource, address common.Address) *NonceAllocator {
	return &NonceAllocator{source: source, address: address}
}

// WithNonce runs fn with the next nonce while holding the allocator lock.
// fn is expected to sign and submit; if it fails the local counter is
// dropped and the next call trusts the network again.
func (a *NonceAllocator) WithNonce(ctx context.Context, fn func(nonce uint64) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending, err := a.source.PendingNonceAt(ctx, a.address)
	if err != nil {
		return fmt.Errorf("failed to fetch pending nonce: %w", err)
	}
	nonce := pending
	if a.synced && a.next > nonce {
		nonce = a.next
	}

	if err := fn(nonce); err != nil {
		a.synced = false
		return err
	}
	a.next = nonce + 1
	a.synced = true
	return nil
}
