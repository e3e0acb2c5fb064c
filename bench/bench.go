// Package bench measures the image transform pipeline across allocator
// implementations and renders a comparison report. Each job gets a fresh
// allocator sized for its parameter set, so the numbers reflect both the
// setup cost and the steady-state behavior of every method.
package bench

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/imgxform/imgxform/imagex"
	"github.com/imgxform/imgxform/memory"
	"github.com/imgxform/imgxform/memory/buddy"
)

// Method selects the allocator backing a benchmark job.
type Method string

const (
	// MethodStd allocates from the Go heap and lets the GC reclaim.
	MethodStd Method = "std"
	// MethodPool recycles buffers through size-class pools.
	MethodPool Method = "pool"
	// MethodBuddy serves all buffers from one pre-sized buddy pool.
	MethodBuddy Method = "buddy"
)

// AllMethods lists the supported methods in report order.
var AllMethods = []Method{MethodStd, MethodPool, MethodBuddy}

// ParseMethod validates a method name from user input.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodStd, MethodPool, MethodBuddy:
		return Method(s), nil
	}
	return "", fmt.Errorf("bench: unknown method %q", s)
}

// Params is one transform parameter set.
type Params struct {
	Angle int
	Scale float64
}

// Result is the measurement of one method under one parameter set.
type Result struct {
	Method        Method
	Angle         int
	Scale         float64
	Width, Height int           // source image dimensions
	AllocSetup    time.Duration // allocator construction time
	Processing    time.Duration // average time per transform iteration
	MaxRSSDeltaKB int64         // peak RSS growth across the job
	Checksum      uint64        // hash of the final output pixels
	Iterations    int
}

// Runner drives transform jobs over the input image. Every (params, method)
// pair is one job with its own allocator instance.
//
// With Parallel > 1, jobs overlap in time and the per-job RSS deltas
// overlap too; use serial runs when the memory column matters.
type Runner struct {
	Input      string
	OutputDir  string
	Methods    []Method // nil means AllMethods
	Iterations int      // per job, min 1
	Parallel   int      // concurrent jobs, min 1
	Logger     *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes every job and returns one Result per job, ordered by
// parameter set then method. The first job failure aborts the run.
func (r *Runner) Run(params []Params) ([]Result, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("bench: no parameter sets")
	}
	methods := r.Methods
	if len(methods) == 0 {
		methods = AllMethods
	}
	iters := r.Iterations
	if iters < 1 {
		iters = 1
	}
	parallel := r.Parallel
	if parallel < 1 {
		parallel = 1
	}
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("bench: output dir: %w", err)
	}

	w, h, c, err := imagex.Probe(r.Input)
	if err != nil {
		return nil, err
	}
	r.logger().Info("bench: starting", "input", r.Input, "size", fmt.Sprintf("%dx%d", w, h),
		"channels", c, "jobs", len(params)*len(methods), "parallel", parallel)

	type job struct {
		idx int
		p   Params
		m   Method
	}
	jobs := make([]job, 0, len(params)*len(methods))
	for _, p := range params {
		for _, m := range methods {
			jobs = append(jobs, job{idx: len(jobs), p: p, m: m})
		}
	}

	results := make([]Result, len(jobs))
	errs := make([]error, len(jobs))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			results[j.idx], errs[j.idx] = r.runJob(j.p, j.m, w, h, c, iters)
		}(j)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *Runner) runJob(p Params, m Method, w, h, c, iters int) (Result, error) {
	res := Result{
		Method: m, Angle: p.Angle, Scale: p.Scale,
		Width: w, Height: h, Iterations: iters,
	}

	rssBefore := maxRSSKB()

	allocStart := time.Now()
	alloc, closeAlloc, err := r.newAllocator(m, w, h, c, p)
	if err != nil {
		return res, err
	}
	res.AllocSetup = time.Since(allocStart)

	output := filepath.Join(r.OutputDir,
		fmt.Sprintf("benchmark_%d_%d_%s.jpg", p.Angle, int(p.Scale*10), m))
	opts := imagex.TransformOptions{
		Input:  r.Input,
		Output: output,
		Angle:  p.Angle,
		Scale:  p.Scale,
	}

	procStart := time.Now()
	var tr *imagex.TransformResult
	for i := 0; i < iters; i++ {
		tr, err = imagex.Transform(alloc, opts)
		if err != nil {
			closeAlloc()
			return res, fmt.Errorf("bench: %s angle=%d scale=%g: %w", m, p.Angle, p.Scale, err)
		}
	}
	res.Processing = time.Since(procStart) / time.Duration(iters)
	res.Checksum = tr.Checksum

	if err := closeAlloc(); err != nil {
		return res, err
	}
	res.MaxRSSDeltaKB = maxRSSKB() - rssBefore

	r.logger().Debug("bench: job done", "method", m, "angle", p.Angle, "scale", p.Scale,
		"out", fmt.Sprintf("%dx%d", tr.W, tr.H), "processing", res.Processing,
		"rss_delta_kb", res.MaxRSSDeltaKB)
	return res, nil
}

func (r *Runner) newAllocator(m Method, w, h, c int, p Params) (memory.Allocator, func() error, error) {
	noClose := func() error { return nil }
	switch m {
	case MethodStd:
		return memory.NewGoAllocator(), noClose, nil
	case MethodPool:
		return memory.NewPoolAllocator(), noClose, nil
	case MethodBuddy:
		size := imagex.EstimateTransformSize(w, h, c, p.Angle, p.Scale)
		// strong downscales shrink the estimate below the source image,
		// which still has to fit in the pool during the load
		if min := w * h * c * 2; size < min {
			size = min
		}
		a, err := buddy.New(size, buddy.WithLogger(r.logger()))
		if err != nil {
			return nil, nil, err
		}
		return buddy.NewSource(a), a.Close, nil
	}
	return nil, nil, fmt.Errorf("bench: unknown method %q", m)
}

// ChecksumsAgree reports whether every method produced identical output
// pixels within each parameter set.
func ChecksumsAgree(results []Result) bool {
	type key struct {
		angle int
		scale float64
	}
	seen := make(map[key]uint64, len(results))
	for _, res := range results {
		k := key{res.Angle, res.Scale}
		want, ok := seen[k]
		if !ok {
			seen[k] = res.Checksum
			continue
		}
		if res.Checksum != want {
			return false
		}
	}
	return true
}
