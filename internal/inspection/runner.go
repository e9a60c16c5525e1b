package inspection

import (
	"context"
	"fmt"
	"image"
	"log"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/visual-aoi/backend/internal/roi"
)

// Runner fans ROI tasks out over a bounded worker pool. One failed or
// panicking task never cancels its siblings; the deadline is the only
// shared cancellation signal.
type Runner struct {
	executor   *Executor
	maxWorkers int
	logger     *log.Logger
}

// NewRunner creates a runner capped at maxWorkers concurrent tasks.
func NewRunner(executor *Executor, maxWorkers int) *Runner {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Runner{
		executor:   executor,
		maxWorkers: maxWorkers,
		logger:     log.New(log.Writer(), "[RUNNER] ", log.LstdFlags),
	}
}

// Run executes every ROI against frame and returns results sorted by
// idx regardless of completion order. When ctx expires, tasks not yet
// started report a timeout result; completed results are retained.
func (r *Runner) Run(ctx context.Context, rois []*roi.ROI, frame image.Image, product, outputDir string) []ROIResult {
	if len(rois) == 0 {
		return nil
	}

	workers := r.maxWorkers
	if len(rois) < workers {
		workers = len(rois)
	}

	tasks := make(chan *roi.ROI)
	results := make([]ROIResult, 0, len(rois))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				var res ROIResult
				if ctx.Err() != nil {
					res = timeoutResult(task)
				} else {
					res = r.safeExecute(ctx, task, frame, product, outputDir)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	for _, task := range rois {
		tasks <- task
	}
	close(tasks)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ROIID < results[j].ROIID })
	return results
}

// safeExecute isolates panics: a crashing task yields a failed result
// carrying the panic text instead of taking the server down.
func (r *Runner) safeExecute(ctx context.Context, task *roi.ROI, frame image.Image, product, outputDir string) (res ROIResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("roi %d task panicked: %v\n%s", task.Idx, rec, debug.Stack())
			res = failedResult(task, fmt.Sprintf("task failed: %v", rec))
		}
	}()
	return r.executor.Execute(ctx, task, frame, product, outputDir)
}

func failedResult(task *roi.ROI, msg string) ROIResult {
	return ROIResult{
		ROIID:       task.Idx,
		DeviceID:    task.DeviceLocation,
		ROITypeName: task.Type.String(),
		Coordinates: [4]int{task.Coords.X1, task.Coords.Y1, task.Coords.X2, task.Coords.Y2},
		Passed:      false,
		Error:       msg,
	}
}

func timeoutResult(task *roi.ROI) ROIResult {
	res := failedResult(task, "timeout: inspection deadline exceeded")
	res.TimedOut = true
	return res
}
