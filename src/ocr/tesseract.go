//go:build tesseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"doc-scanner/src/imagefile"
)

const tesseractAvailable = true

// TesseractEngine runs recognition locally through libtesseract.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
	pageSegMode   gosseract.PageSegMode
}

func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{clientFactory: gosseract.NewClient, pageSegMode: gosseract.PSM_AUTO}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Recognize(ctx context.Context, img *imagefile.Image, language string, progress ProgressFunc) (Result, error) {
	progress.report(StatusLoadingCore, 0)
	c := e.clientFactory()
	defer c.Close()
	progress.report(StatusLoadingCore, 1)

	progress.report(StatusInitializing, 0)
	if err := c.SetPageSegMode(e.pageSegMode); err != nil {
		return Result{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	progress.report(StatusInitializing, 1)

	progress.report(StatusLoadingLanguage, 0)
	if language == "" {
		language = DefaultLanguage
	}
	if err := c.SetLanguage(strings.Split(language, "+")...); err != nil {
		return Result{}, fmt.Errorf("failed to set OCR language %q: %w", language, err)
	}
	progress.report(StatusLoadingLanguage, 1)

	progress.report(StatusInitializingAPI, 0)
	data, _, err := img.Portable()
	if err != nil {
		return Result{}, err
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return Result{}, fmt.Errorf("failed to set OCR image data: %w", err)
	}
	progress.report(StatusInitializingAPI, 1)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	progress.report(StatusRecognizingText, 0)
	text, err := c.Text()
	if err != nil {
		return Result{}, fmt.Errorf("OCR text extraction failed: %w", err)
	}
	progress.report(StatusRecognizingText, 1)

	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	return Result{Text: text, Confidence: meanConfidence(c), Engine: e.Name()}, nil
}

// meanConfidence averages word confidences, zero when there are no words.
func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}
