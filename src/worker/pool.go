package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"doc-scanner/src/imagefile"
	"doc-scanner/src/ocr"
)

// ResultCallback is invoked on recognition completion (from a worker goroutine).
// The caller should pass a closure that posts back into its event loop.
type ResultCallback func(res ocr.Result, err error)

// Job is one recognition call.
type Job struct {
	Ctx      context.Context
	Image    *imagefile.Image
	Language string
	Progress ocr.ProgressFunc
	Done     ResultCallback
}

// Pool is a fixed-size recognition worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	engine ocr.Engine
	jobs   chan Job
	wg     sync.WaitGroup
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(engine ocr.Engine, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{engine: engine, jobs: make(chan Job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.run(j)
			}
		}()
	}
}

func (p *Pool) run(j Job) {
	ctx := j.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.With().Str("engine", p.engine.Name()).Str("image", j.Image.Name).Logger()
	logger.Debug().Str("language", j.Language).Msg("worker: starting recognition")

	res, err := ocr.RecognizeWithContext(ctx, p.engine, j.Image, j.Language, j.Progress)

	logger.Debug().Int("chars", len(res.Text)).Err(err).Msg("worker: recognition completed")
	if j.Done != nil {
		j.Done(res, err)
	}
}

// Submit enqueues a job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(j Job) bool {
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
