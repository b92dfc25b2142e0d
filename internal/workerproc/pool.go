package workerproc

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// Pool is the supervisor side of the local worker pool (spec §4.5.2): K
// worker processes, each running a binary that calls Serve, pulling tasks
// from a shared queue and returning records in completion order.
type Pool struct {
	command string
	args    []string
	workers int
	logger  *slog.Logger
}

// NewPool constructs a Pool of workers processes, each spawned as
// exec.Command(command, args...).
func NewPool(command string, args []string, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{command: command, args: args, workers: workers, logger: logger}
}

// Run dispatches one request per point to the pool and blocks until every
// point has a terminal record, returning them in completion order (spec
// §4.5.2 — "records come back in completion order; the result set does
// not depend on order"). A worker-reported experiment failure becomes a
// failed record rather than aborting the pool; only a process-level
// failure (the subprocess cannot be spawned, or the pipe breaks) is
// returned as an error.
func (p *Pool) Run(ctx context.Context, experimentName string, points []value.Dict) ([]record.Record, error) {
	if len(points) == 0 {
		return nil, nil
	}

	workers := p.workers
	if workers > len(points) {
		workers = len(points)
	}

	jobs := make(chan Request, len(points))

	for i, pt := range points {
		jobs <- Request{Seq: i, ExperimentName: experimentName, Parameters: pt}
	}

	close(jobs)

	results := make(chan []record.Record, len(points))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func(workerIndex int) {
			defer wg.Done()

			if err := p.runWorker(ctx, workerIndex, jobs, results); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(w)
	}

	wg.Wait()
	close(results)

	if firstErr != nil {
		return nil, firstErr
	}

	all := make([]record.Record, 0, len(points))
	for recs := range results {
		all = append(all, recs...)
	}

	return all, nil
}

func (p *Pool) runWorker(ctx context.Context, workerIndex int, jobs <-chan Request, results chan<- []record.Record) error {
	cmd := exec.CommandContext(ctx, p.command, p.args...) //nolint:gosec // command is operator-configured, not user input

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("workerproc: pool: stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("workerproc: pool: stdout pipe: %w", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("workerproc: pool: start worker %d: %w", workerIndex, err)
	}

	reader := bufio.NewReader(stdout)

	runErr := func() error {
		for req := range jobs {
			if err := writeFrame(stdin, req); err != nil {
				return fmt.Errorf("workerproc: pool: write to worker %d: %w", workerIndex, err)
			}

			var resp Response
			if err := readFrame(reader, &resp); err != nil {
				return fmt.Errorf("workerproc: pool: read from worker %d: %w", workerIndex, err)
			}

			if resp.Error != "" {
				results <- []record.Record{failedRecord(req.Parameters, resp.Error)}

				continue
			}

			results <- resp.Records
		}

		return nil
	}()

	_ = stdin.Close()

	waitErr := cmd.Wait()

	if runErr != nil {
		return runErr
	}

	if waitErr != nil {
		return fmt.Errorf("workerproc: pool: worker %d exited: %w", workerIndex, waitErr)
	}

	return nil
}

func failedRecord(p value.Dict, exception string) record.Record {
	now := time.Now()

	return record.Record{
		Parameters: p,
		Results:    value.Dict{},
		Metadata: record.Metadata{
			Status:    false,
			Exception: exception,
			StartTime: now,
			EndTime:   now,
		},
	}
}
