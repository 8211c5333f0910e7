package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
)

// TransferResult is what a completed transfer reports back
type TransferResult struct {
	TxHash      string
	BlockNumber uint64
}

// TransferExecutor performs the transfer for one task.
// Implementations must honour ctx cancellation; the engine passes the batch deadline through it.
type TransferExecutor interface {
	Execute(ctx context.Context, task *model.DistributionTask) (TransferResult, error)
}

// ExecutorFunc adapts a function to TransferExecutor
type ExecutorFunc func(ctx context.Context, task *model.DistributionTask) (TransferResult, error)

// Execute implements TransferExecutor
func (f ExecutorFunc) Execute(ctx context.Context, task *model.DistributionTask) (TransferResult, error) {
	return f(ctx, task)
}

// SimulatedExecutor stands in for on-chain submission: it sleeps for a random delay
// and returns a synthetic keccak transaction hash and an increasing block number.
type SimulatedExecutor struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	failureRate float64

	mu    sync.Mutex
	rng   *rand.Rand
	block atomic.Uint64
}

// NewSimulatedExecutor creates an executor; failureRate is the probability in [0,1] that a transfer fails
func NewSimulatedExecutor(minDelay, maxDelay time.Duration, failureRate float64) *SimulatedExecutor {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	x := &SimulatedExecutor{
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	x.block.Store(1)
	return x
}

// Execute implements TransferExecutor
func (x *SimulatedExecutor) Execute(ctx context.Context, task *model.DistributionTask) (TransferResult, error) {
	x.mu.Lock()
	delay := x.minDelay
	if span := x.maxDelay - x.minDelay; span > 0 {
		delay += time.Duration(x.rng.Int63n(int64(span)))
	}
	fail := x.failureRate > 0 && x.rng.Float64() < x.failureRate
	x.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return TransferResult{}, ctx.Err()
	}

	if fail {
		return TransferResult{}, fmt.Errorf("simulated transfer to %s rejected", task.RecipientAddress)
	}
	amount := "0"
	if task.AmountWei != nil {
		amount = task.AmountWei.String()
	}
	return TransferResult{
		TxHash:      security.Keccak256Hex(task.ID, task.RecipientAddress, amount, strconv.FormatInt(time.Now().UnixNano(), 10)),
		BlockNumber: x.block.Add(1),
	}, nil
}
