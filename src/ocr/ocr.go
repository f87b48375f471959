// Package ocr defines the recognition collaborator: an engine that turns an
// image into text and reports progress while it works.
package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"doc-scanner/src/config"
	"doc-scanner/src/imagefile"
	"doc-scanner/src/llm"
)

const DefaultLanguage = config.DefaultLanguage

// Progress statuses reported by engines. Only StatusRecognizingText carries a
// meaningful completion fraction for display.
const (
	StatusLoadingCore     = "loading tesseract core"
	StatusInitializing    = "initializing tesseract"
	StatusLoadingLanguage = "loading language traineddata"
	StatusInitializingAPI = "initializing api"
	StatusRecognizingText = "recognizing text"
)

var ErrEngineUnavailable = errors.New("OCR engine unavailable")

// Progress is one incremental status update. Progress is a fraction in [0,1].
type Progress struct {
	Status   string
	Progress float64
}

type ProgressFunc func(Progress)

func (f ProgressFunc) report(status string, fraction float64) {
	if f != nil {
		f(Progress{Status: status, Progress: fraction})
	}
}

type Result struct {
	Text string
	// Confidence is the engine's mean confidence in [0,100], zero when unknown.
	Confidence float64
	Engine     string
}

// Engine recognizes text in a single image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img *imagefile.Image, language string, progress ProgressFunc) (Result, error)
}

// New builds the engine selected by configuration.
func New(cfg *config.Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.Engine == config.EngineLLM:
		return newVisionFromConfig(cfg)
	case tesseractAvailable:
		return NewTesseractEngine(), nil
	case cfg.APIKey != "" && cfg.Model != "":
		log.Warn().Msg("built without tesseract support, using the llm engine")
		return newVisionFromConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: built without tesseract support (rebuild with -tags tesseract or set OCR_ENGINE=llm)", ErrEngineUnavailable)
	}
}

func newVisionFromConfig(cfg *config.Config) (Engine, error) {
	client, err := llm.New(llm.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	if err != nil {
		return nil, err
	}
	return NewVisionEngine(client), nil
}

// Pinger is implemented by engines that can verify their backend up front.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check verifies that engine can serve requests. Engines without a remote
// backend always pass.
func Check(ctx context.Context, engine Engine) error {
	p, ok := engine.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// RecognizeWithContext runs the engine and returns as soon as ctx is done,
// even when the engine itself does not observe ctx. The abandoned call keeps
// running in the background and its result is dropped.
func RecognizeWithContext(ctx context.Context, engine Engine, img *imagefile.Image, language string, progress ProgressFunc) (Result, error) {
	if img == nil {
		return Result{}, errors.New("no image selected")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	type outcome struct {
		res Result
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- outcome{err: fmt.Errorf("%s engine panicked: %v", engine.Name(), r)}
			}
		}()
		res, err := engine.Recognize(ctx, img, language, progress)
		resCh <- outcome{res: res, err: err}
	}()

	select {
	case r := <-resCh:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
