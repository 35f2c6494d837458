package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heromessaging/heromessaging/clock"
	"github.com/heromessaging/heromessaging/message"
	"github.com/heromessaging/heromessaging/pipeline"
)

func TestBatchPassThroughWhenDisabled(t *testing.T) {
	var calls int32
	inner := func(ctx context.Context, msgs []*message.Message, pctxs []message.ProcessingContext) ([]message.Result, error) {
		atomic.AddInt32(&calls, 1)
		results := make([]message.Result, len(msgs))
		for i, m := range msgs {
			results[i] = message.Success(m, nil)
		}
		return results, nil
	}

	b, err := pipeline.NewBatch(inner, pipeline.BatchOptions{Enabled: false})
	require.NoError(t, err)

	r, err := b.Process(context.Background(), newValidMessage(), message.NewProcessingContext("test"))
	require.NoError(t, err)
	assert.True(t, r.IsSuccess())
	assert.EqualValues(t, 1, calls)
}

// TestBatchFlushesOnMaxSizeAllThreeSeeSuccess is scenario S3.
func TestBatchFlushesOnMaxSizeAllThreeSeeSuccess(t *testing.T) {
	var calls int32
	inner := func(ctx context.Context, msgs []*message.Message, pctxs []message.ProcessingContext) ([]message.Result, error) {
		atomic.AddInt32(&calls, 1)
		results := make([]message.Result, len(msgs))
		for i, m := range msgs {
			results[i] = message.Success(m, nil)
		}
		return results, nil
	}

	b, err := pipeline.NewBatch(inner, pipeline.BatchOptions{
		Enabled:      true,
		MinBatchSize: 2,
		MaxBatchSize: 3,
		BatchTimeout: 10 * time.Second,
		Clock:        clock.NewFake(time.Unix(0, 0)),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]message.Result, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := b.Process(context.Background(), newValidMessage(), message.NewProcessingContext("test"))
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.IsSuccess())
	}
	assert.EqualValues(t, 1, calls, "all three messages flushed in a single batch invocation")
}

func TestBatchFlushesSmallAccumulationIndividuallyNotAsBatch(t *testing.T) {
	var batchSizes []int
	var mu sync.Mutex
	inner := func(ctx context.Context, msgs []*message.Message, pctxs []message.ProcessingContext) ([]message.Result, error) {
		mu.Lock()
		batchSizes = append(batchSizes, len(msgs))
		mu.Unlock()
		results := make([]message.Result, len(msgs))
		for i, m := range msgs {
			results[i] = message.Success(m, nil)
		}
		return results, nil
	}

	fake := clock.NewFake(time.Unix(0, 0))
	b, err := pipeline.NewBatch(inner, pipeline.BatchOptions{
		Enabled:      true,
		MinBatchSize: 5,
		MaxBatchSize: 10,
		BatchTimeout: time.Second,
		Clock:        fake,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := b.Process(context.Background(), newValidMessage(), message.NewProcessingContext("test"))
		assert.NoError(t, err)
	}()

	for fake.PendingSleepers() == 0 {
		time.Sleep(time.Millisecond)
	}
	fake.Advance(time.Second)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batchSizes, 1)
	assert.Equal(t, 1, batchSizes[0], "below MinBatchSize must flush as an individual call")
}

func TestBatchFallsBackToIndividualProcessingOnBatchInvocationError(t *testing.T) {
	var mode int32 // 0 = batch call, fails; 1+ = individual calls
	inner := func(ctx context.Context, msgs []*message.Message, pctxs []message.ProcessingContext) ([]message.Result, error) {
		if len(msgs) > 1 {
			atomic.AddInt32(&mode, 1)
			return nil, errors.New("batch invocation failed")
		}
		results := make([]message.Result, len(msgs))
		for i, m := range msgs {
			results[i] = message.Success(m, nil)
		}
		return results, nil
	}

	b, err := pipeline.NewBatch(inner, pipeline.BatchOptions{
		Enabled:                        true,
		MinBatchSize:                   2,
		MaxBatchSize:                   2,
		BatchTimeout:                   time.Second,
		FallbackToIndividualProcessing: true,
		Clock:                          clock.NewFake(time.Unix(0, 0)),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]message.Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := b.Process(context.Background(), newValidMessage(), message.NewProcessingContext("test"))
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.IsSuccess())
	}
}

func TestBatchShutdownFlushesInFlightBatch(t *testing.T) {
	inner := func(ctx context.Context, msgs []*message.Message, pctxs []message.ProcessingContext) ([]message.Result, error) {
		results := make([]message.Result, len(msgs))
		for i, m := range msgs {
			results[i] = message.Success(m, nil)
		}
		return results, nil
	}

	b, err := pipeline.NewBatch(inner, pipeline.BatchOptions{
		Enabled:      true,
		MinBatchSize: 1,
		MaxBatchSize: 10,
		BatchTimeout: time.Hour,
		Clock:        clock.NewFake(time.Unix(0, 0)),
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := b.Process(context.Background(), newValidMessage(), message.NewProcessingContext("test"))
		assert.NoError(t, err)
		assert.True(t, r.IsSuccess())
	}()

	time.Sleep(10 * time.Millisecond) // let Process register its job
	require.NoError(t, b.Shutdown(context.Background()))
	<-done
}

func TestNewBatchRejectsInvalidOptions(t *testing.T) {
	inner := func(ctx context.Context, msgs []*message.Message, pctxs []message.ProcessingContext) ([]message.Result, error) {
		return nil, nil
	}

	_, err := pipeline.NewBatch(inner, pipeline.BatchOptions{Enabled: true, MaxBatchSize: 0})
	assert.Error(t, err)

	_, err = pipeline.NewBatch(nil, pipeline.BatchOptions{})
	assert.Error(t, err)
}
