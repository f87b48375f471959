package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"doc-scanner/src/clipboard"
	"doc-scanner/src/imagefile"
	"doc-scanner/src/ocr"
	"doc-scanner/src/scanview"
)

type scanOptions struct {
	filePath   string
	jsonOutput bool
	copy       bool
	noProgress bool
}

// scanDeps are the collaborators of a headless scan, swapped out in tests.
type scanDeps struct {
	engine   ocr.Engine
	clip     clipboard.Writer
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	language string
	deadline time.Duration
}

type ScanResult struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	AttemptID  string  `json:"attempt_id"`
	Engine     string  `json:"engine"`
	Language   string  `json:"language"`
	Timestamp  string  `json:"timestamp"`
	Duration   float64 `json:"duration_seconds"`
	CharCount  int     `json:"character_count"`
	Confidence float64 `json:"confidence,omitempty"`
}

func newScanCmd(root *mainOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Extract text from an image without opening a window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*root)
			if err != nil {
				return err
			}
			engine, err := ocr.New(cfg)
			if err != nil {
				return err
			}
			var clip clipboard.Writer = clipboard.System{}
			if opts.copy {
				if err := clipboard.Init(); err != nil {
					return fmt.Errorf("failed to initialize clipboard: %w", err)
				}
			}
			scanOpts := *opts
			if !isTerminal(os.Stderr) {
				scanOpts.noProgress = true
			}
			return runScan(cmd.Context(), scanDeps{
				engine:   engine,
				clip:     clip,
				stdin:    cmd.InOrStdin(),
				stdout:   cmd.OutOrStdout(),
				stderr:   cmd.ErrOrStderr(),
				language: cfg.Language,
				deadline: cfg.Deadline(),
			}, scanOpts)
		},
	}

	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to image file (use '-' for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Also copy the extracted text to the clipboard")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Do not draw a progress bar on stderr")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readImage(path string, stdin io.Reader) (*imagefile.Image, error) {
	if path != "-" {
		return imagefile.Load(path)
	}
	img, err := imagefile.FromReader("stdin", stdin)
	if err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// runScan drives one recognition through the same controller the window uses.
func runScan(ctx context.Context, deps scanDeps, opts scanOptions) error {
	img, err := readImage(opts.filePath, deps.stdin)
	if err != nil {
		return err
	}
	log.Debug().Str("image", img.Name).Str("mime", img.MIME).Str("size", img.HumanSize()).Msg("image loaded")

	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		bar = newProgressBar(deps.stderr)
	}

	ctrl := scanview.New(deps.engine, scanview.Options{Language: deps.language, Deadline: deps.deadline})
	settled := make(chan scanview.State, 1)
	ctrl.Subscribe(func(s scanview.State) {
		if bar != nil && s.Progress != "" {
			bar.Describe(s.Progress)
			if s.Percent >= 0 {
				_ = bar.Set(s.Percent)
			}
		}
		if s.AttemptID != "" && !s.Scanning {
			select {
			case settled <- s:
			default:
			}
		}
	})

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = ctrl.Run(loopCtx)
	}()
	defer func() {
		cancel()
		<-loopDone
	}()

	start := time.Now()
	ctrl.SelectImage(img)
	ctrl.Extract()

	var final scanview.State
	select {
	case final = <-settled:
	case <-ctx.Done():
		return fmt.Errorf("scan interrupted: %w", ctx.Err())
	}
	elapsed := time.Since(start)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(deps.stderr)
	}

	if final.Outcome.Kind == scanview.OutcomeError {
		log.Debug().Str("attempt", final.AttemptID).Dur("elapsed", elapsed).Msg("scan failed")
		return errors.New(final.Outcome.Text)
	}

	if opts.copy {
		if err := ctrl.Copy(deps.clip); err != nil && !errors.Is(err, scanview.ErrNothingToCopy) {
			return err
		}
		color.New(color.FgGreen).Fprintf(deps.stderr, "✓ Copied %d characters to clipboard\n", len(final.DisplayText()))
	}

	return writeResult(deps.stdout, ScanResult{
		Text:       final.DisplayText(),
		Source:     opts.filePath,
		AttemptID:  final.AttemptID,
		Engine:     deps.engine.Name(),
		Language:   deps.language,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Duration:   elapsed.Seconds(),
		CharCount:  len(final.DisplayText()),
		Confidence: final.Confidence,
	}, opts.jsonOutput)
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(scanview.MsgInitializing),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func writeResult(w io.Writer, result ScanResult, jsonOutput bool) error {
	if !jsonOutput {
		_, err := fmt.Fprint(w, result.Text)
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// isTerminal reports whether output to f would reach a human.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
