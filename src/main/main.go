package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"doc-scanner/src/clipboard"
	"doc-scanner/src/config"
	"doc-scanner/src/gui"
	"doc-scanner/src/logutil"
	"doc-scanner/src/ocr"
	"doc-scanner/src/scanview"
)

const (
	appID               = "io.github.docscanner"
	startupCheckTimeout = 15 * time.Second
)

type mainOptions struct {
	apiKeyPath string
	engine     string
	language   string
	verbose    bool
}

func main() {
	if err := runWithArgs(normalizeLegacyArgs(os.Args)); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"doc-scanner"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "doc-scanner",
		Short:         "Extract text from a document image",
		Long:          "Opens the scanner window. Use the scan subcommand for headless runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGUI(cmd.Context(), *opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	flags.StringVar(&opts.engine, "engine", "", "OCR engine: tesseract or llm (overrides OCR_ENGINE)")
	flags.StringVar(&opts.language, "lang", "", "Recognition language(s), e.g. eng or eng+fra (overrides OCR_LANGUAGE)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")

	cmd.AddCommand(newScanCmd(opts))
	return cmd
}

// loadConfig reads configuration and sets up logging before anything else runs.
func loadConfig(opts mainOptions) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		APIKeyPathOverride: opts.apiKeyPath,
		EngineOverride:     opts.engine,
		LanguageOverride:   opts.language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.verbose {
		logutil.Verbose()
	} else {
		logutil.Setup(cfg.EnableFileLogging, cfg.LogLevel)
	}
	log.Debug().
		Str("engine", cfg.Engine).
		Str("language", cfg.Language).
		Str("model", cfg.Model).
		Str("api_key", logutil.RedactKey(cfg.APIKey)).
		Str("api_key_path", cfg.APIKeyPath).
		Int("deadline_sec", cfg.OCRDeadlineSec).
		Msg("configuration loaded")
	return cfg, nil
}

func runGUI(ctx context.Context, opts mainOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	engine, err := ocr.New(cfg)
	if err != nil {
		return err
	}
	if err := checkEngine(ctx, engine); err != nil {
		return err
	}
	if err := clipboard.Init(); err != nil {
		log.Warn().Err(err).Msg("clipboard unavailable, copy is disabled")
	}

	ctrl := scanview.New(engine, scanview.Options{Language: cfg.Language, Deadline: cfg.Deadline()})
	a := app.NewWithID(appID)
	win := gui.New(a, ctrl, clipboard.System{})

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := ctrl.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			log.Error().Err(err).Msg("scan loop stopped")
		}
	}()
	go func() {
		<-loopCtx.Done()
		fyne.Do(a.Quit)
	}()

	log.Info().Str("engine", engine.Name()).Str("language", cfg.Language).Msg("doc-scanner started")
	win.ShowAndRun()
	return nil
}

// checkEngine fails startup early when the engine's backend is unreachable or rejects the credentials.
func checkEngine(ctx context.Context, engine ocr.Engine) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()
	if err := ocr.Check(ctx, engine); err != nil {
		return fmt.Errorf("%s engine unavailable: %w", engine.Name(), err)
	}
	log.Debug().Str("engine", engine.Name()).Msg("engine check passed")
	return nil
}

// normalizeLegacyArgs maps single-dash long flags (-file, -json) to cobra's --form.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	long := []string{"file", "json", "copy", "lang", "engine", "verbose", "api-key-path"}
	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range long {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}
	return normalized
}
