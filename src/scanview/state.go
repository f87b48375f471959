// Package scanview implements the scan screen: one selected image, at most one
// recognition call in flight, a progress line, and the outcome of the last call.
//
// State changes only through State.Apply, and only the Controller's loop
// goroutine applies events, so views never see a half-updated state.
package scanview

import (
	"math"
	"strconv"

	"doc-scanner/src/imagefile"
	"doc-scanner/src/ocr"
)

const (
	MsgInitializing = "Initializing OCR engine..."
	MsgDone         = "Done!"
	MsgFailed       = "Failed."

	errorPrefix = "Error: "
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReady
	PhaseScanning
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReady:
		return "ready"
	case PhaseScanning:
		return "scanning"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeText
	OutcomeError
)

// Outcome is the tagged result of the last recognition call.
type Outcome struct {
	Kind OutcomeKind
	// Text is the recognized text for OutcomeText, the error message for OutcomeError.
	Text string
}

func TextOutcome(text string) Outcome { return Outcome{Kind: OutcomeText, Text: text} }

func ErrorOutcome(message string) Outcome { return Outcome{Kind: OutcomeError, Text: message} }

// Display renders the outcome for the result area.
func (o Outcome) Display() string {
	switch o.Kind {
	case OutcomeText:
		return o.Text
	case OutcomeError:
		return errorPrefix + o.Text
	default:
		return ""
	}
}

type State struct {
	Image    *imagefile.Image
	Outcome  Outcome
	Scanning bool
	Progress string
	// Percent mirrors Progress as a number, -1 until a recognizing event arrives.
	Percent int
	// Confidence is the engine's mean confidence for the last successful call.
	Confidence float64

	// Generation increments on every image selection. A call started under an
	// older generation no longer touches the outcome or progress.
	Generation     uint64
	ScanGeneration uint64
	AttemptID      string
}

func (s State) Phase() Phase {
	switch {
	case s.Image == nil:
		return PhaseIdle
	case s.Scanning && s.ScanGeneration == s.Generation:
		return PhaseScanning
	case s.Outcome.Kind == OutcomeText:
		return PhaseDone
	case s.Outcome.Kind == OutcomeError:
		return PhaseFailed
	default:
		return PhaseReady
	}
}

// CanExtract reports whether the extract action is available.
func (s State) CanExtract() bool {
	return s.Image != nil && !s.Scanning
}

// DisplayText is what the result area shows and what Copy places on the clipboard.
func (s State) DisplayText() string {
	return s.Outcome.Display()
}

type Event interface {
	isEvent()
}

type ImageSelected struct {
	Image *imagefile.Image
}

type ScanStarted struct {
	Generation uint64
	AttemptID  string
}

// ProgressReported and ScanSettled are tagged with the attempt that produced
// them; events from any other attempt are ignored.
type ProgressReported struct {
	AttemptID string
	Progress  ocr.Progress
}

type ScanSettled struct {
	AttemptID string
	Result    ocr.Result
	Err       error
}

func (ImageSelected) isEvent()    {}
func (ScanStarted) isEvent()      {}
func (ProgressReported) isEvent() {}
func (ScanSettled) isEvent()      {}

// Apply is the single reducer for scan screen state.
func (s State) Apply(ev Event) State {
	switch e := ev.(type) {
	case ImageSelected:
		// Scanning is left alone: a call still in flight keeps the extract
		// action disabled until it settles.
		s.Image = e.Image
		s.Outcome = Outcome{}
		s.Progress = ""
		s.Percent = -1
		s.Confidence = 0
		s.Generation++

	case ScanStarted:
		if e.Generation != s.Generation || s.Image == nil {
			return s
		}
		s.Scanning = true
		s.ScanGeneration = e.Generation
		s.AttemptID = e.AttemptID
		s.Progress = MsgInitializing
		s.Percent = -1

	case ProgressReported:
		if !s.Scanning || e.AttemptID != s.AttemptID || s.ScanGeneration != s.Generation {
			return s
		}
		if e.Progress.Status != ocr.StatusRecognizingText {
			return s
		}
		s.Percent = Percent(e.Progress.Progress)
		s.Progress = FormatProgress(e.Progress.Progress)

	case ScanSettled:
		if !s.Scanning || e.AttemptID != s.AttemptID {
			return s
		}
		s.Scanning = false
		if s.ScanGeneration != s.Generation {
			// The image changed while the call was in flight.
			return s
		}
		if e.Err != nil {
			s.Outcome = ErrorOutcome(e.Err.Error())
			s.Confidence = 0
			s.Progress = MsgFailed
			return s
		}
		s.Outcome = TextOutcome(e.Result.Text)
		s.Confidence = e.Result.Confidence
		s.Progress = MsgDone
		s.Percent = 100
	}
	return s
}

// Percent converts a [0,1] fraction to a whole percentage, rounding half up.
func Percent(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	pct := int(math.Floor(fraction*100 + 0.5))
	return max(0, min(100, pct))
}

func FormatProgress(fraction float64) string {
	return "Progress: " + strconv.Itoa(Percent(fraction)) + "%"
}
