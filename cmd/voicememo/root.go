package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jwulff/voicememo/internal/audio"
	"github.com/jwulff/voicememo/internal/concat"
	"github.com/jwulff/voicememo/internal/config"
	"github.com/jwulff/voicememo/internal/db"
	"github.com/jwulff/voicememo/internal/logging"
	"github.com/jwulff/voicememo/internal/stt"
	"github.com/jwulff/voicememo/internal/transcribe"
)

// cli carries what every subcommand needs once flags are parsed.
type cli struct {
	ctx        context.Context
	out        io.Writer
	fs         afero.Fs
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *log.Logger
}

func newRootCommand(ctx context.Context, out io.Writer) *cobra.Command {
	c := &cli{ctx: ctx, out: out, fs: afero.NewOsFs()}

	cobra.EnableCommandSorting = false
	root := &cobra.Command{
		Use:           "voicememo",
		Short:         "Long-form voice memo transcription.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCommand(c))
	root.AddCommand(newTUICommand(c))
	root.AddCommand(newMCPCommand(c))
	root.AddCommand(newMemoCommand(c))
	root.AddCommand(newConcatCommand(c))
	root.AddCommand(newTranscribeCommand(c))
	root.AddCommand(newPlanCommand(c))
	return root
}

func (c *cli) load() error {
	src := config.Sources{File: c.configPath, DotEnv: ".env"}
	if src.File == "" {
		src.File = config.DefaultPath()
		src.FileOptional = true
	}
	cfg, err := config.Load(src)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg
	c.logger = logging.New(os.Stderr, cfg.LogLevel)
	if p := cfg.Path(); p != "" {
		c.logger.Debug("config loaded", "path", p)
	}
	return nil
}

func (c *cli) openStore() (*db.Store, error) {
	store, err := db.Open(c.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func (c *cli) ffmpeg() *audio.FFmpeg {
	return audio.NewFFmpeg(
		audio.WithBinaries(c.cfg.FFmpeg.FFmpeg, c.cfg.FFmpeg.FFprobe),
		audio.WithTempDir(c.cfg.TempDir),
		audio.WithLogger(c.logger),
	)
}

func (c *cli) transcriber() transcribe.Transcriber {
	switch c.cfg.Backend {
	case config.BackendHTTP:
		return stt.NewHTTP(c.cfg.HTTP.Endpoint, c.cfg.HTTP.Model, c.cfg.HTTP.APIKey, c.logger)
	default:
		w := stt.NewWhisper(c.cfg.Whisper.Binary, c.cfg.Whisper.Model, c.logger)
		w.Threads = c.cfg.Whisper.Threads
		return w
	}
}

func (c *cli) leaser() transcribe.Leaser {
	if !c.cfg.InhibitSleep {
		return transcribe.NopLeaser{}
	}
	if _, err := exec.LookPath("systemd-inhibit"); err != nil {
		c.logger.Warn("systemd-inhibit not found, sleep will not be blocked")
		return transcribe.NopLeaser{}
	}
	return transcribe.InhibitLeaser{}
}

func (c *cli) engine(store *db.Store, ff *audio.FFmpeg) *transcribe.Engine {
	return transcribe.New(c.transcriber(), ff,
		transcribe.WithStore(store),
		transcribe.WithTranscriptWriter(store),
		transcribe.WithLeaser(c.leaser()),
		transcribe.WithLogger(c.logger),
		transcribe.WithFs(c.fs),
		transcribe.WithLocale(c.cfg.Locale),
		transcribe.WithMaxChunkDuration(c.cfg.Chunk.MaxDuration),
		transcribe.WithCooldown(c.cfg.Chunk.Cooldown),
	)
}

func (c *cli) concatenator(ff *audio.FFmpeg, onProgress func(float64)) *concat.Concatenator {
	opts := []concat.Option{
		concat.WithTempDir(c.cfg.TempDir),
		concat.WithLogger(c.logger),
	}
	if onProgress != nil {
		opts = append(opts, concat.WithProgress(onProgress))
	}
	return concat.New(c.fs, ff, ff, opts...)
}
