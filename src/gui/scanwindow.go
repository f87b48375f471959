// Package gui renders the scan screen with fyne. Every widget is driven by
// Render from a scanview.State; user actions are forwarded to the controller.
package gui

import (
	"errors"
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog/log"

	"doc-scanner/src/clipboard"
	"doc-scanner/src/imagefile"
	"doc-scanner/src/scanview"
	"doc-scanner/src/screenshot"
)

const (
	Title = "Document Text Scanner"

	labelExtract  = "Extract Text"
	labelScanning = "Scanning…"
	labelCopy     = "Copy to Clipboard"
	labelCopied   = "Copied!"
)

// Controller is the part of scanview.Controller the window drives.
type Controller interface {
	SelectImage(img *imagefile.Image)
	Extract()
	Copy(w clipboard.Writer) error
	Subscribe(fn func(scanview.State))
	Snapshot() scanview.State
}

type ScanWindow struct {
	win  fyne.Window
	ctrl Controller
	clip clipboard.Writer

	pick    *widget.Button
	capture *widget.Button

	imageBox  *fyne.Container
	preview   *canvas.Image
	imageInfo *widget.Label
	extract   *widget.Button
	progress  *widget.Label

	resultBox *fyne.Container
	result    *widget.Label
	copy      *widget.Button

	grab         func() ([]byte, error)
	captureDelay time.Duration

	// previews are built on the UI goroutine when an image is picked, keyed by URI.
	previews map[string]fyne.Resource
	shown    string
}

// New builds the window and keeps it in sync with ctrl.
func New(app fyne.App, ctrl Controller, clip clipboard.Writer) *ScanWindow {
	w := newScanWindow(app.NewWindow(Title), ctrl, clip)
	ctrl.Subscribe(func(s scanview.State) {
		fyne.Do(func() { w.Render(s) })
	})
	return w
}

func newScanWindow(win fyne.Window, ctrl Controller, clip clipboard.Writer) *ScanWindow {
	w := &ScanWindow{
		win:      win,
		ctrl:     ctrl,
		clip:     clip,
		previews: make(map[string]fyne.Resource),

		grab:         screenshot.CapturePNG,
		captureDelay: 200 * time.Millisecond,
	}

	w.pick = widget.NewButton("Choose Image…", w.showPicker)
	w.pick.Importance = widget.HighImportance
	w.capture = widget.NewButton("Capture Screen", w.captureScreen)

	w.preview = canvas.NewImageFromResource(nil)
	w.preview.FillMode = canvas.ImageFillContain
	w.preview.SetMinSize(fyne.NewSize(480, 320))
	w.imageInfo = widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{Italic: true})
	w.extract = widget.NewButton(labelExtract, ctrl.Extract)
	w.extract.Importance = widget.SuccessImportance
	w.progress = widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{})
	w.imageBox = container.NewVBox(w.preview, w.imageInfo, container.NewCenter(w.extract), w.progress)

	w.result = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Monospace: true})
	w.result.Wrapping = fyne.TextWrapWord
	w.copy = widget.NewButton(labelCopy, w.copyResult)
	w.resultBox = container.NewVBox(
		widget.NewLabelWithStyle("Extracted Text:", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		w.result,
		container.NewHBox(w.copy),
	)

	heading := widget.NewLabelWithStyle(Title, fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	content := container.NewVBox(
		heading,
		container.NewHBox(w.pick, w.capture),
		w.imageBox,
		w.resultBox,
	)
	win.SetContent(container.NewVScroll(content))
	win.Resize(fyne.NewSize(720, 820))

	w.Render(ctrl.Snapshot())
	return w
}

func (w *ScanWindow) Window() fyne.Window { return w.win }

func (w *ScanWindow) ShowAndRun() { w.win.ShowAndRun() }

// Render brings every widget in line with s. It must run on the fyne UI goroutine.
func (w *ScanWindow) Render(s scanview.State) {
	if s.Image == nil {
		w.imageBox.Hide()
	} else {
		if s.Image.URI != w.shown {
			w.preview.Resource = w.previews[s.Image.URI]
			w.preview.Refresh()
			w.forgetPreviewsExcept(s.Image.URI)
			w.shown = s.Image.URI
		}
		w.imageInfo.SetText(fmt.Sprintf("%s (%s)", s.Image.Name, s.Image.HumanSize()))
		w.imageBox.Show()
	}

	if s.Scanning {
		w.extract.SetText(labelScanning)
	} else {
		w.extract.SetText(labelExtract)
	}
	if s.CanExtract() {
		w.extract.Enable()
	} else {
		w.extract.Disable()
	}

	w.progress.SetText(s.Progress)
	if s.Progress == "" {
		w.progress.Hide()
	} else {
		w.progress.Show()
	}

	text := s.DisplayText()
	if s.Outcome.Kind == scanview.OutcomeError {
		w.result.Importance = widget.DangerImportance
	} else {
		w.result.Importance = widget.MediumImportance
	}
	w.result.SetText(text)
	w.copy.SetText(labelCopy)
	if text == "" {
		w.resultBox.Hide()
	} else {
		w.resultBox.Show()
	}
}

// Select prepares the preview and hands img to the controller.
func (w *ScanWindow) Select(img *imagefile.Image) {
	if data, _, err := img.Portable(); err == nil {
		w.previews[img.URI] = fyne.NewStaticResource(img.Name, data)
	} else {
		log.Warn().Err(err).Str("image", img.Name).Msg("preview unavailable")
	}
	w.ctrl.SelectImage(img)
}

func (w *ScanWindow) forgetPreviewsExcept(uri string) {
	for k := range w.previews {
		if k != uri {
			delete(w.previews, k)
		}
	}
}

func (w *ScanWindow) showPicker() {
	d := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, w.win)
			return
		}
		if r == nil {
			return
		}
		defer r.Close()

		img, err := imagefile.FromReader(r.URI().Name(), r)
		if err != nil {
			dialog.ShowError(err, w.win)
			return
		}
		w.Select(img)
	}, w.win)
	d.SetFilter(storage.NewMimeTypeFileFilter([]string{"image/*"}))
	d.Show()
}

// captureScreen hides the window, grabs the screen off the UI goroutine and
// hands the shot to Select once the window is back.
func (w *ScanWindow) captureScreen() {
	w.capture.Disable()
	w.win.Hide()
	go func() {
		time.Sleep(w.captureDelay)
		data, err := w.grab()
		fyne.Do(func() {
			w.win.Show()
			w.capture.Enable()
			if err != nil {
				log.Error().Err(err).Msg("screen capture failed")
				dialog.ShowError(err, w.win)
				return
			}
			name := fmt.Sprintf("screen-%s.png", time.Now().Format("20060102-150405"))
			w.Select(imagefile.FromBytes(name, data))
		})
	}()
}

func (w *ScanWindow) copyResult() {
	err := w.ctrl.Copy(w.clip)
	switch {
	case errors.Is(err, scanview.ErrNothingToCopy):
		return
	case err != nil:
		log.Error().Err(err).Msg("copy failed")
		dialog.ShowError(err, w.win)
		return
	}
	w.copy.SetText(labelCopied)
}
