//go:build !tesseract

package ocr

import (
	"context"
	"fmt"

	"doc-scanner/src/imagefile"
)

const tesseractAvailable = false

// TesseractEngine is a placeholder for builds without libtesseract.
// Rebuild with -tags tesseract to enable local recognition.
type TesseractEngine struct{}

func NewTesseractEngine() *TesseractEngine { return &TesseractEngine{} }

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Recognize(ctx context.Context, img *imagefile.Image, language string, progress ProgressFunc) (Result, error) {
	return Result{}, fmt.Errorf("%w: built without tesseract support (rebuild with -tags tesseract or set OCR_ENGINE=llm)", ErrEngineUnavailable)
}
