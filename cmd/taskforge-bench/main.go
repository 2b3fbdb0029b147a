// taskforge-bench exercises the dispatch engine end to end: a batch of
// CPU-bound tasks with copy semantics, then an in-place transform over a
// transferred buffer, followed by a summary of what the pool did.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/taskforge/config"
	"github.com/taskforge/taskforge/pool"
)

var (
	bold  = color.New(color.Bold)
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
)

func main() {
	configPath := flag.String("config", "", "path to taskforge.yaml (optional)")
	tasks := flag.Int("tasks", 32, "number of CPU-bound tasks to submit")
	depth := flag.Int("depth", 30, "fibonacci depth per task")
	elems := flag.Int("elems", 1<<16, "float64 elements in the transfer buffer demo")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		red.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pool.New(append(cfg.PoolOptions(), pool.WithLogger(logger))...)
	registerFunctions(p)

	if err := p.Start(ctx); err != nil {
		red.Fprintf(os.Stderr, "start pool: %v\n", err)
		os.Exit(1)
	}

	bold.Printf("taskforge-bench: %d x fib(%d), then a %d-element buffer transform\n\n",
		*tasks, *depth, *elems)

	durations, err := runFibBatch(p, *tasks, *depth)
	if err != nil {
		red.Fprintf(os.Stderr, "fib batch: %v\n", err)
		_ = p.ShutdownNow()
		os.Exit(1)
	}

	if err := runBufferDemo(p, *elems); err != nil {
		red.Fprintf(os.Stderr, "buffer demo: %v\n", err)
		_ = p.ShutdownNow()
		os.Exit(1)
	}

	stats := p.Stats()
	if err := p.Drain(30 * time.Second); err != nil {
		red.Fprintf(os.Stderr, "drain: %v\n", err)
	}

	renderSummary(stats, durations)
	green.Println("\nall tasks settled")
}

func registerFunctions(p *pool.Pool) {
	_ = p.Register("fib", func(_ context.Context, inv *pool.Invocation) (any, error) {
		var n int
		if err := inv.Decode(&n); err != nil {
			return nil, err
		}
		return fib(n), nil
	})

	_ = p.Register("scale", func(_ context.Context, inv *pool.Invocation) (any, error) {
		b := inv.Buffer()
		if b == nil {
			return nil, fmt.Errorf("scale expects a transferred buffer")
		}
		n := b.Len() / 8
		for i := 0; i < n; i++ {
			v, err := b.Float64At(i)
			if err != nil {
				return nil, err
			}
			if err := b.SetFloat64At(i, v*2); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

func fib(n int) int {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

// runFibBatch submits the whole batch up front and collects each outcome
// as it settles, in whatever order the workers finish.
func runFibBatch(p *pool.Pool, tasks, depth int) ([]time.Duration, error) {
	bar := progressbar.NewOptions(tasks,
		progressbar.OptionSetDescription("fib tasks"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)

	futures := make([]*pool.Future, 0, tasks)
	for i := 0; i < tasks; i++ {
		fut, err := p.Submit("fib", depth)
		if err != nil {
			return nil, fmt.Errorf("submit task %d: %w", i, err)
		}
		futures = append(futures, fut)
	}

	var (
		mu        sync.Mutex
		durations []time.Duration
	)
	var g errgroup.Group
	for _, fut := range futures {
		g.Go(func() error {
			o := fut.Get()
			_ = bar.Add(1)
			if o.Err != nil {
				return o.Err
			}
			mu.Lock()
			durations = append(durations, o.Duration)
			mu.Unlock()

			var got int
			return o.Decode(&got)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	fmt.Println()
	return durations, nil
}

func runBufferDemo(p *pool.Pool, elems int) error {
	buf := pool.NewFloat64Buffer(elems)
	for i := 0; i < elems; i++ {
		if err := buf.SetFloat64At(i, float64(i)); err != nil {
			return err
		}
	}

	start := time.Now()
	fut, err := p.SubmitBuffer("scale", buf)
	if err != nil {
		return err
	}
	if buf.Released() {
		fmt.Println("buffer ownership transferred to the pool (no copy)")
	}

	o := fut.Get()
	if o.Err != nil {
		return o.Err
	}
	out := o.Buffer()
	if out == nil {
		return fmt.Errorf("no buffer returned")
	}

	// spot check
	v, err := out.Float64At(elems - 1)
	if err != nil {
		return err
	}
	if want := float64(elems-1) * 2; v != want {
		return fmt.Errorf("element %d: got %v, expected %v", elems-1, v, want)
	}

	fmt.Printf("scaled %d float64s in place in %v\n\n", elems, time.Since(start).Round(time.Microsecond))
	return nil
}

func renderSummary(stats pool.Stats, durations []time.Duration) {
	bold.Println("POOL SUMMARY")

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Workers", "Completed", "Failed", "Crashed", "Retried", "Cancelled")
	_ = table.Append(
		fmt.Sprintf("%d", stats.Workers),
		fmt.Sprintf("%d", stats.Completed),
		fmt.Sprintf("%d", stats.Failed),
		fmt.Sprintf("%d", stats.Crashed),
		fmt.Sprintf("%d", stats.Retried),
		fmt.Sprintf("%d", stats.Cancelled),
	)
	_ = table.Render()

	if len(durations) == 0 {
		return
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	var total time.Duration
	for _, d := range durations {
		total += d
	}

	bold.Println("\nTASK LATENCY")
	latency := tablewriter.NewWriter(os.Stdout)
	latency.Header("Min", "Avg", "P95", "Max")
	_ = latency.Append(
		durations[0].Round(time.Microsecond).String(),
		(total / time.Duration(len(durations))).Round(time.Microsecond).String(),
		durations[len(durations)*95/100].Round(time.Microsecond).String(),
		durations[len(durations)-1].Round(time.Microsecond).String(),
	)
	_ = latency.Render()
}
