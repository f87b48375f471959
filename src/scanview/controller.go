package scanview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"doc-scanner/src/clipboard"
	"doc-scanner/src/imagefile"
	"doc-scanner/src/logutil"
	"doc-scanner/src/ocr"
	"doc-scanner/src/worker"
)

var (
	ErrNothingToCopy = errors.New("nothing to copy")
	ErrBusy          = errors.New("busy, please retry")
)

type Options struct {
	// Language is passed to the engine verbatim, e.g. "eng" or "eng+fra".
	Language string
	// Deadline bounds each recognition call. Zero leaves calls unbounded.
	Deadline time.Duration
	// Pool runs recognition calls. When nil the controller owns a single-worker pool.
	Pool *worker.Pool
}

type selectRequest struct{ image *imagefile.Image }

type extractRequest struct{}

// Controller is the single-threaded coordinator for the scan screen.
// All state transitions happen on the goroutine running Run.
type Controller struct {
	engine   ocr.Engine
	pool     *worker.Pool
	ownsPool bool
	language string
	deadline time.Duration

	events chan any
	done   chan struct{}

	mu        sync.RWMutex
	state     State
	observers []func(State)

	// loop goroutine only
	cancelScan context.CancelFunc
	startedAt  time.Time
}

func New(engine ocr.Engine, opts Options) *Controller {
	language := opts.Language
	if language == "" {
		language = ocr.DefaultLanguage
	}
	c := &Controller{
		engine:   engine,
		pool:     opts.Pool,
		language: language,
		deadline: opts.Deadline,
		events:   make(chan any, 64),
		done:     make(chan struct{}),
		state:    State{Percent: -1},
	}
	if c.pool == nil {
		c.pool = worker.New(engine, 1)
		c.ownsPool = true
	}
	return c
}

// Snapshot returns the most recently published state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe registers fn to receive every new state. Observers run on the
// loop goroutine and must not block.
func (c *Controller) Subscribe(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// SelectImage replaces the selected image, clearing text and progress.
func (c *Controller) SelectImage(img *imagefile.Image) {
	c.post(selectRequest{image: img})
}

// Extract starts a recognition call for the selected image. It is ignored
// when no image is selected or a call is already in flight.
func (c *Controller) Extract() {
	c.post(extractRequest{})
}

// Copy writes exactly the displayed text to w.
func (c *Controller) Copy(w clipboard.Writer) error {
	text := c.Snapshot().DisplayText()
	if text == "" {
		return ErrNothingToCopy
	}
	if err := w.Write(text); err != nil {
		return fmt.Errorf("clipboard error: %w", err)
	}
	log.Debug().Int("chars", len(text)).Msg("copied result to clipboard")
	return nil
}

// Run processes events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		close(c.done)
		if c.cancelScan != nil {
			c.cancelScan()
		}
		if c.ownsPool {
			c.pool.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case selectRequest:
		c.handleSelect(e.image)
	case extractRequest:
		c.handleExtract(ctx)
	case ProgressReported:
		c.apply(e)
	case ScanSettled:
		c.handleSettled(e)
	}
}

func (c *Controller) handleSelect(img *imagefile.Image) {
	prev := c.Snapshot()
	// Release is a no-op for images a recognition call was given; an abandoned
	// call may still be reading them.
	if prev.Image != nil && prev.Image != img {
		prev.Image.Release()
	}
	if prev.Scanning && c.cancelScan != nil {
		log.Info().Str("attempt", prev.AttemptID).Msg("image replaced during scan, cancelling call")
		c.cancelScan()
	}

	c.apply(ImageSelected{Image: img})
	if img != nil {
		log.Info().Str("image", img.Name).Str("mime", img.MIME).Str("size", img.HumanSize()).Msg("image selected")
	}
}

func (c *Controller) handleExtract(ctx context.Context) {
	s := c.Snapshot()
	if !s.CanExtract() {
		log.Debug().Stringer("phase", s.Phase()).Bool("scanning", s.Scanning).Msg("extract ignored")
		return
	}

	attempt := uuid.NewString()
	gen := s.Generation

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if c.deadline > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, c.deadline)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	c.cancelScan = cancel
	c.startedAt = time.Now()

	s.Image.Share()
	c.apply(ScanStarted{Generation: gen, AttemptID: attempt})
	log.Info().Str("attempt", attempt).Str("engine", c.engine.Name()).Str("language", c.language).Msg("recognition started")

	submitted := c.pool.Submit(worker.Job{
		Ctx:      jobCtx,
		Image:    s.Image,
		Language: c.language,
		Progress: func(p ocr.Progress) {
			c.post(ProgressReported{AttemptID: attempt, Progress: p})
		},
		Done: func(res ocr.Result, err error) {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("recognition timed out after %s", c.deadline)
			}
			c.post(ScanSettled{AttemptID: attempt, Result: res, Err: err})
		},
	})
	if !submitted {
		c.handleSettled(ScanSettled{AttemptID: attempt, Err: ErrBusy})
	}
}

func (c *Controller) handleSettled(e ScanSettled) {
	if c.cancelScan != nil {
		c.cancelScan()
		c.cancelScan = nil
	}
	s := c.Snapshot()
	logger := log.With().Str("attempt", s.AttemptID).Dur("elapsed", time.Since(c.startedAt)).Logger()
	switch {
	case e.AttemptID != s.AttemptID || s.ScanGeneration != s.Generation:
		logger.Info().Err(e.Err).Msg("discarding result for replaced image")
	case e.Err != nil:
		logger.Warn().Err(e.Err).Msg("recognition failed")
	default:
		logger.Info().Int("chars", len(e.Result.Text)).Str("text", logutil.SanitizeForLogging(e.Result.Text)).Msg("recognition completed")
	}

	c.apply(e)
}

func (c *Controller) apply(ev Event) {
	c.mu.Lock()
	c.state = c.state.Apply(ev)
	s := c.state
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}
