package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"ShortsComposer-server/composer"
	"ShortsComposer-server/config"
	"ShortsComposer-server/logger"
	"ShortsComposer-server/models"
	"ShortsComposer-server/service"

	"github.com/spf13/cobra"
)

type globalOpts struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var g globalOpts
	rootCmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a vertical short video from still images and a voiceover",
		Long: `compose - run the shorts composition pipeline locally

Reads a JSON request (content_id, script, assets, voiceover, optional text_overlay),
renders every segment, concatenates them and muxes the voiceover into
<output_dir>/<content_id>.mp4. Use --stub to run without ffmpeg.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "path to config.yaml (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&g.LogLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newRunCmd(&g),
		newResolveCmd(&g),
	)
	return rootCmd
}

// Execute runs the root command with the given output writers.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}

type runOpts struct {
	RequestPath string
	OutPath     string
	Stub        bool
	OutputDir   string
	ScratchDir  string
}

func newRunCmd(g *globalOpts) *cobra.Command {
	var opts runOpts
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one composition and print the result manifest",
		Long: `Run one composition and print FinalVideo + CompositionDetails as JSON.

The text overlay in the request replaces the configured default as a whole.
Interrupting the command cancels running ffmpeg calls and removes scratch files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g.ConfigPath)
			if err != nil {
				return err
			}
			if opts.Stub {
				cfg.Composer.StubMode = true
			}
			if opts.OutputDir != "" {
				cfg.Composer.OutputDir = opts.OutputDir
			}
			if opts.ScratchDir != "" {
				cfg.Composer.ScratchDir = opts.ScratchDir
			}
			params, err := readRequest(opts.RequestPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lg := logger.New(logger.Config{Service: cfg.Log.Service, Level: g.LogLevel, Output: cmd.ErrOrStderr()})
			comp := composer.NewFromConfig(cfg.Composer, nil, lg)
			video, details, err := comp.Compose(ctx, composer.Request{
				ContentID: params.ContentId,
				Script:    params.Script,
				Assets:    params.Assets,
				Voiceover: params.Voiceover,
				Overlay:   service.ResolveOverlay(params.TextOverlay, cfg.TextOverlay),
				Progress: func(stage string, done, total int) {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", done, total, stage)
				},
			})
			if err != nil {
				return err
			}
			return writeManifest(cmd.OutOrStdout(), opts.OutPath, manifest{Video: video, Details: details})
		},
	}
	cmd.Flags().StringVar(&opts.RequestPath, "request", "", "path to the JSON request file")
	cmd.Flags().StringVar(&opts.OutPath, "out", "", "also write the manifest to this file")
	cmd.Flags().BoolVar(&opts.Stub, "stub", false, "use the stub engine (no ffmpeg)")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "", "override composer.output_dir")
	cmd.Flags().StringVar(&opts.ScratchDir, "scratch-dir", "", "override composer.scratch_dir")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func newResolveCmd(g *globalOpts) *cobra.Command {
	var requestPath string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the visual timing table for a request",
		Long: `Print the visual timing table for a request.
Read-only: no media is rendered and no files are written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g.ConfigPath)
			if err != nil {
				return err
			}
			params, err := readRequest(requestPath)
			if err != nil {
				return err
			}
			timings, err := composer.BuildSegmentTimings(params.Script, params.Voiceover)
			if err != nil {
				return err
			}
			visuals, err := composer.ResolveVisualTimings(params.Script, params.Assets, timings, cfg.Composer.AlternateMotion)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				ContentID      string                `json:"content_id"`
				VisualTimings  []models.VisualTiming `json:"visual_timings"`
				VisualDuration float64               `json:"visual_duration"`
				AudioDuration  float64               `json:"audio_duration"`
			}{params.ContentId, visuals, composer.VisualDuration(visuals), params.Voiceover.Duration})
		},
	}
	cmd.Flags().StringVar(&requestPath, "request", "", "path to the JSON request file")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

// loadConfig 未指定配置文件时只使用默认值
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg, cfg.Composer.Validate()
}

func readRequest(path string) (*models.ComposeParams, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var p models.ComposeParams
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", path, err)
	}
	return &p, nil
}

type manifest struct {
	Video   *models.FinalVideo         `json:"video"`
	Details *models.CompositionDetails `json:"details"`
}

func writeManifest(stdout io.Writer, path string, m manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path != "" {
		if err := os.WriteFile(path, b, 0644); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	_, err = stdout.Write(b)
	return err
}
