package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

func TestTaskCountersAreConserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("completed+failed+pending+processing equals total", prop.ForAll(
		func(amounts []int64, failEvery int, batchSize int) bool {
			calls := 0
			exec := ExecutorFunc(func(_ context.Context, _ *model.DistributionTask) (TransferResult, error) {
				calls++
				if calls%failEvery == 0 {
					return TransferResult{}, errors.New("rejected")
				}
				return TransferResult{TxHash: "0x1"}, nil
			})
			cfg := testConfig()
			cfg.MaxConcurrentBatches = 1
			cfg.CircuitFailureThreshold = 1000
			e := New(cfg).WithExecutor(exec)

			for _, a := range amounts {
				if _, err := e.CreateDistributionTask(TaskRequest{
					Category:    types.CategoryRewards,
					AmountTBURN: decimal.NewFromInt(a),
					Priority:    types.Priority(a % 4),
				}); err != nil {
					return false
				}
			}
			batches := 0
			for {
				if _, err := e.CreateBatchFromQueue("p", types.CategoryRewards, types.PriorityNormal, batchSize); err != nil {
					break
				}
				batches++
			}

			check := func() bool {
				m := e.GetMetrics()
				return m.TotalTasks == len(amounts) &&
					m.TotalTasks == m.CompletedTasks+m.FailedTasks+m.PendingTasks+m.ProcessingTasks
			}
			for i := 0; i < batches; i++ {
				e.ProcessTick()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := e.Wait(ctx)
				cancel()
				if err != nil || !check() {
					return false
				}
			}
			m := e.GetMetrics()
			return m.PendingTasks == 0 && m.ProcessingTasks == 0 && m.FailedTasks == len(amounts)/failEvery
		},
		gen.SliceOfN(12, gen.Int64Range(1, 1_000_000)),
		gen.IntRange(1, 5),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
