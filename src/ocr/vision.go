package ocr

import (
	"context"
	"fmt"

	"doc-scanner/src/imagefile"
)

// VisionClient is the part of the LLM client the vision engine needs.
type VisionClient interface {
	QueryVision(ctx context.Context, imageData []byte, mimeType, language string) (string, error)
}

// VisionEngine delegates recognition to a vision language model.
type VisionEngine struct {
	client VisionClient
}

func NewVisionEngine(client VisionClient) *VisionEngine {
	return &VisionEngine{client: client}
}

func (e *VisionEngine) Name() string { return "llm" }

func (e *VisionEngine) Recognize(ctx context.Context, img *imagefile.Image, language string, progress ProgressFunc) (Result, error) {
	progress.report(StatusInitializingAPI, 0)
	data, mimeType, err := img.Portable()
	if err != nil {
		return Result{}, err
	}
	progress.report(StatusInitializingAPI, 1)

	progress.report(StatusRecognizingText, 0)
	text, err := e.client.QueryVision(ctx, data, mimeType, language)
	if err != nil {
		return Result{}, fmt.Errorf("vision OCR failed: %w", err)
	}
	progress.report(StatusRecognizingText, 1)

	return Result{Text: text, Engine: e.Name()}, nil
}

// Ping checks the vision backend when the client supports it.
func (e *VisionEngine) Ping(ctx context.Context) error {
	if p, ok := e.client.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
