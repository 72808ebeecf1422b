package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/memvault/memvault-go/pkg/decay"
	"github.com/memvault/memvault-go/pkg/search"
)

// AsyncEngine provides asynchronous memory operations.
//
// It wraps the synchronous Engine and executes operations in separate
// goroutines, so orchestration workflows can issue many reads and writes
// without stalling unrelated steps. All async methods return channels that
// receive the result when the operation completes; Wait blocks until every
// in-flight operation has finished.
//
// Example:
//
//	async, _ := engine.NewAsyncEngine(config, nil)
//	defer async.Close()
//
//	resultChan := async.WriteAsync(ctx, "conversations", "User likes Go")
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncEngine struct {
	*Engine
	wg sync.WaitGroup
}

// NewAsyncEngine creates a new asynchronous memory engine.
//
// Parameters:
//   - cfg: Engine configuration
//   - logger: Logger for background tasks (may be nil)
//
// Returns the async engine, or an error if configuration is invalid or
// initialization fails.
func NewAsyncEngine(cfg *Config, logger *zap.Logger) (*AsyncEngine, error) {
	eng, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &AsyncEngine{Engine: eng}, nil
}

// AsyncWriteResult contains the result of an asynchronous write.
type AsyncWriteResult struct {
	// Result is the write outcome (nil if an error occurred).
	Result *WriteResult

	// Error is the error returned by the operation (nil on success).
	Error error
}

// AsyncSearchResult contains the result of an asynchronous search.
type AsyncSearchResult struct {
	// Results is the ranked result list.
	Results []*search.Result

	// Error is the error returned by the operation (nil on success).
	Error error
}

// AsyncCleanupResult contains the result of an asynchronous cleanup.
type AsyncCleanupResult struct {
	// Stats summarizes the cleanup run (nil if an error occurred).
	Stats *decay.Stats

	// Error is the error returned by the operation (nil on success).
	Error error
}

// WriteAsync persists a memory entry asynchronously.
//
// The operation executes in a separate goroutine and returns its result via
// the channel. Embedding generation, the slowest step, runs inside that
// goroutine and is canceled through ctx independently of other operations.
func (ae *AsyncEngine) WriteAsync(ctx context.Context, namespace, content string, opts ...WriteOption) <-chan *AsyncWriteResult {
	resultChan := make(chan *AsyncWriteResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		result, err := ae.Write(ctx, namespace, content, opts...)
		resultChan <- &AsyncWriteResult{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// SearchAsync retrieves entries asynchronously.
func (ae *AsyncEngine) SearchAsync(ctx context.Context, namespace, query string, opts ...SearchOption) <-chan *AsyncSearchResult {
	resultChan := make(chan *AsyncSearchResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		results, err := ae.Search(ctx, namespace, query, opts...)
		resultChan <- &AsyncSearchResult{
			Results: results,
			Error:   err,
		}
		close(resultChan)
	}()

	return resultChan
}

// CleanupAsync runs cleanup asynchronously.
func (ae *AsyncEngine) CleanupAsync(ctx context.Context, dryRun bool) <-chan *AsyncCleanupResult {
	resultChan := make(chan *AsyncCleanupResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		stats, err := ae.Cleanup(ctx, dryRun)
		resultChan <- &AsyncCleanupResult{
			Stats: stats,
			Error: err,
		}
		close(resultChan)
	}()

	return resultChan
}

// DeleteAsync deletes an entry asynchronously.
func (ae *AsyncEngine) DeleteAsync(ctx context.Context, id int64) <-chan error {
	errChan := make(chan error, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		errChan <- ae.Delete(ctx, id)
		close(errChan)
	}()

	return errChan
}

// Wait blocks until all asynchronous operations have completed.
func (ae *AsyncEngine) Wait() {
	ae.wg.Wait()
}

// Close waits for in-flight operations, then closes the underlying engine.
func (ae *AsyncEngine) Close() error {
	ae.Wait()
	return ae.Engine.Close()
}
