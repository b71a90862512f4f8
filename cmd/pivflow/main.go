package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"pivflow/internal/models"
	"pivflow/pkg/config"
	"pivflow/pkg/frames"
	"pivflow/pkg/mask"
	"pivflow/pkg/pipeline"
	"pivflow/pkg/store"
	"pivflow/pkg/visualization"
)

func main() {
	// Parse command line arguments
	frameAPath := flag.String("frame-a", "", "First frame of the image pair (PNG or JPEG)")
	frameBPath := flag.String("frame-b", "", "Second frame of the image pair (PNG or JPEG)")
	configPath := flag.String("config", "pivflow.yaml", "Run configuration file")
	outputName := flag.String("output", "field.txt", "Output field filename")
	dbPath := flag.String("db", "", "Optional SQLite database to record the run")
	plots := flag.Bool("plots", false, "Write a vector plot per pass")
	invert := flag.Bool("invert", false, "Invert frame intensities before processing")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if *frameAPath == "" || *frameBPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	passes, err := cfg.PassConfigs()
	if err != nil {
		log.Fatal().Err(err).Msg("building pass plan")
	}
	timing, err := pipeline.ParseValidationTiming(cfg.Validation.Timing)
	if err != nil {
		log.Fatal().Err(err).Msg("parsing validation timing")
	}

	frameA, err := frames.Load(*frameAPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading frame A")
	}
	frameB, err := frames.Load(*frameBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading frame B")
	}

	roi := cfg.Preprocess.ROI
	if roi.Top > 0 || roi.Bottom > 0 || roi.Left > 0 || roi.Right > 0 {
		if frameA, err = frames.CropROI(frameA, roi.Top, roi.Bottom, roi.Left, roi.Right); err != nil {
			log.Fatal().Err(err).Msg("cropping frame A")
		}
		if frameB, err = frames.CropROI(frameB, roi.Top, roi.Bottom, roi.Left, roi.Right); err != nil {
			log.Fatal().Err(err).Msg("cropping frame B")
		}
	}
	if *invert || cfg.Preprocess.Invert {
		frames.Invert(frameA)
		frames.Invert(frameB)
	}

	opts := []pipeline.Option{
		pipeline.WithValidationTiming(timing),
		pipeline.WithLogger(log),
	}
	if cfg.Masking.Dynamic {
		opts = append(opts, pipeline.WithDynamicMask(&mask.DynamicConfig{
			Threshold:  cfg.Masking.Threshold,
			FilterSize: cfg.Masking.FilterSize,
		}))
	}

	var plotObserver *visualization.PlotObserver
	if *plots {
		plotObserver = &visualization.PlotObserver{
			OutputDir: filepath.Join(cfg.Output.Directory, "plots"),
			Scale:     cfg.Output.PlotScale,
		}
		opts = append(opts, pipeline.WithObserver(plotObserver))
	}

	p, err := pipeline.New(passes, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring pipeline")
	}

	log.Info().
		Str("frame_a", *frameAPath).
		Str("frame_b", *frameBPath).
		Int("passes", len(passes)).
		Msg("starting displacement estimation")

	started := time.Now()
	res, err := p.Run(frameA, frameB)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline failed")
	}
	elapsed := time.Since(started)

	outputPath := filepath.Join(cfg.Output.Directory, *outputName)
	if err := store.SaveText(outputPath, res); err != nil {
		log.Fatal().Err(err).Msg("writing field file")
	}
	log.Info().
		Str("output", outputPath).
		Int("rows", res.Grid.Rows).
		Int("cols", res.Grid.Cols).
		Dur("elapsed", elapsed).
		Msg("field written")

	if *dbPath != "" {
		s, err := store.Open(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Msg("opening result database")
		}
		defer s.Close()

		runID, err := s.SaveResult(store.RunMeta{
			FrameA: filepath.Base(*frameAPath),
			FrameB: filepath.Base(*frameBPath),
			Width:  frameA.Width,
			Height: frameA.Height,
			Passes: passSummary(passes),
		}, res)
		if err != nil {
			log.Fatal().Err(err).Msg("recording run")
		}
		log.Info().Str("run_id", runID).Msg("run recorded")
	}

	if plotObserver != nil {
		if err := plotObserver.Err(); err != nil {
			log.Warn().Err(err).Msg("plot rendering incomplete")
		}
	}
}

// passSummary formats the pass plan as "64/32,32/16" for the run record.
func passSummary(passes []models.PassConfig) string {
	out := ""
	for i, pc := range passes {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d/%d", pc.WindowSize, pc.Overlap)
	}
	return out
}
