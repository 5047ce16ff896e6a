package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zsiec/framestep/internal/config"
	"github.com/zsiec/framestep/internal/logger"
	"github.com/zsiec/framestep/internal/media/ffmpeg"
	"github.com/zsiec/framestep/internal/media/memory"
	"github.com/zsiec/framestep/internal/navigator"
	"github.com/zsiec/framestep/internal/tui"
	"github.com/zsiec/framestep/pkg/version"
)

func main() {
	var (
		configPath  string
		outDir      string
		logPath     string
		fps         float64
		synthetic   bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&outDir, "out", ".", "Directory extracted stills are written to")
	flag.StringVar(&logPath, "log", "", "Log file (logging is off when empty)")
	flag.Float64Var(&fps, "fps", 0, "Frame rate override")
	flag.BoolVar(&synthetic, "synthetic", false, "Scrub a generated test clip instead of a file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <video>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}
	if !synthetic && flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(configPath, outDir, logPath, fps, synthetic, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "scrub: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, outDir, logPath string, fps float64, synthetic bool, path string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// the terminal belongs to the UI
	if logPath != "" {
		cfg.Logging.Output = logPath
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if logPath == "" {
		log.SetOutput(io.Discard)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		src   navigator.Source
		title string
	)
	if synthetic {
		opts := memory.DefaultOptions()
		src = memory.New(opts)
		title = "synthetic"
		if fps <= 0 {
			fps = opts.FPS
		}
	} else {
		probeCtx, probeCancel := context.WithTimeout(ctx, cfg.Media.ProbeTimeout)
		fileSrc, err := ffmpeg.Open(probeCtx, path, ffmpeg.Options{
			FrameCacheSize: cfg.Media.FrameCacheSize,
			Logger:         logger.ForComponent(log, "ffmpeg"),
		})
		probeCancel()
		if err != nil {
			return err
		}
		defer fileSrc.Close()

		src = fileSrc
		title = filepath.Base(path)
		if fps <= 0 {
			fps = fileSrc.Info().FPS()
		}
	}
	if fps <= 0 {
		fps = cfg.Navigator.DefaultFPS
	}

	nav := navigator.New(src, fps,
		navigator.WithLogger(logger.ForComponent(log, "navigator")),
		navigator.WithExtractTimeout(cfg.Navigator.ExtractTimeout),
		navigator.WithSurfaceFactory(navigator.BoundedSurfaces(cfg.Navigator.MaxSurfacePixels)),
	)

	_, err = tea.NewProgram(tui.New(ctx, nav, title, outDir), tea.WithAltScreen()).Run()
	return err
}
