package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vision-tutor/internal/domain"
	"vision-tutor/internal/infra/audio"
	"vision-tutor/internal/metrics"
)

func serveCmd() *cobra.Command {
	var withInbox bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and upload page",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log)

			ctx, cancel := signalContext()
			defer cancel()

			m := metrics.New()
			assistant, err := buildAssistant(cfg, m, logger)
			if err != nil {
				return err
			}

			server := audio.NewServer(assistant, m, audio.ServerOptions{
				Addr:           cfg.Server.Addr,
				AuthToken:      cfg.Server.AuthToken,
				RateLimit:      cfg.Server.RateLimit,
				MaxUploadBytes: cfg.Audio.MaxBytes + cfg.Image.MaxBytes,
				OutputDir:      cfg.Server.OutputDir,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				RequestTimeout: cfg.Server.RequestTimeout,
				ReadTimeout:    cfg.Server.ReadTimeout,
				SpeechTTL:      cfg.Server.SpeechTTL,
			}, logger)

			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("starting server: %w", err)
			}
			defer server.Stop()

			if withInbox {
				inbox := audio.NewInbox(cfg.Audio.InboxDir, assistant, inboxOptions(cfg), logger)
				go func() {
					if err := inbox.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
						logger.Error("inbox stopped", "error", err)
					}
				}()
			}

			logger.Info("vision tutor ready",
				"addr", cfg.Server.Addr,
				"vision_provider", cfg.Models.VisionProvider,
				"max_audio", humanize.Bytes(uint64(cfg.Audio.MaxBytes)),
			)

			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&withInbox, "watch", false, "also process the inbox directory")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		audioPath string
		imagePath string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer a single spoken question about an image",
		Example: `  vision-tutor ask --audio question.m4a --image xray.jpg
  vision-tutor ask --audio question.wav --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log)

			ctx, cancel := signalContext()
			defer cancel()

			assistant, err := buildAssistant(cfg, nil, logger)
			if err != nil {
				return err
			}

			answer, err := assistant.Ask(ctx, domain.Query{AudioPath: audioPath, ImagePath: imagePath})
			if err != nil {
				return err
			}

			return printAnswer(cmd, answer, asJSON)
		},
	}

	cmd.Flags().StringVarP(&audioPath, "audio", "a", "", "recorded question (wav, mp3, m4a)")
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "image to analyze")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")
	cmd.MarkFlagRequired("audio")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <audio>...",
		Short: "Check audio files without calling any service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log)
			assistant := validatorOnly(cfg, logger)

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				info, err := assistant.Validate(path)
				if err != nil {
					failed++
					kind, _ := domain.KindOf(err)
					fmt.Fprintf(out, "FAIL  %s [%s]\n", err, kind)
					continue
				}

				line := fmt.Sprintf("OK    %s: %s, %s", path, info.Format, humanize.Bytes(uint64(info.SizeBytes)))
				if info.Format == domain.AudioFormatWAV {
					if wav, err := audio.ProbeWAV(path); err == nil {
						line += fmt.Sprintf(", %d Hz, %d ch, %d-bit, %s",
							wav.SampleRate, wav.Channels, wav.BitsPerSample, wav.Duration.Round(10*time.Millisecond))
					} else {
						line += ", wav metadata unreadable"
					}
				} else {
					line += ", duration unavailable for this format"
				}
				fmt.Fprintln(out, line)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files failed validation", failed, len(args))
			}
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Answer questions dropped into a directory",
		Long: `Polls a directory for audio files. An image with the same base name
(question.wav + question.jpg) is sent along with the audio. Answers are
written next to the input as <name>.answer.txt and <name>.answer.mp3.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log)
			if dir == "" {
				dir = cfg.Audio.InboxDir
			}

			ctx, cancel := signalContext()
			defer cancel()

			assistant, err := buildAssistant(cfg, nil, logger)
			if err != nil {
				return err
			}

			inbox := audio.NewInbox(dir, assistant, inboxOptions(cfg), logger)

			if err := inbox.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory to watch (default audio.inbox_dir)")
	return cmd
}

func recordCmd() *cobra.Command {
	var (
		seconds   int
		imagePath string
		keep      bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a question from the microphone and answer it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if seconds <= 0 {
				return fmt.Errorf("--seconds must be positive")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log)

			ctx, cancel := signalContext()
			defer cancel()

			assistant, err := buildAssistant(cfg, nil, logger)
			if err != nil {
				return err
			}

			path := filepath.Join(cfg.Server.OutputDir, "question-"+uuid.NewString()+".wav")
			recorder := audio.NewRecorder(cfg.Audio.SampleRate, logger)
			fmt.Fprintf(cmd.ErrOrStderr(), "Recording for %ds...\n", seconds)
			if err := recorder.Record(ctx, time.Duration(seconds)*time.Second, path); err != nil {
				return err
			}
			if !keep {
				defer os.Remove(path)
			}

			answer, err := assistant.Ask(ctx, domain.Query{AudioPath: path, ImagePath: imagePath})
			if err != nil {
				return err
			}
			return printAnswer(cmd, answer, asJSON)
		},
	}

	cmd.Flags().IntVarP(&seconds, "seconds", "s", 5, "recording length")
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "image to analyze")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the recorded WAV file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")
	return cmd
}

func printAnswer(cmd *cobra.Command, answer *domain.Answer, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*domain.Answer
			AudioPath string `json:"audio_path,omitempty"`
		}{answer, answer.AudioPath})
	}

	fmt.Fprintf(out, "Question: %s\n\n", answer.Transcript)
	fmt.Fprintf(out, "Answer: %s\n", answer.Analysis)
	if answer.AudioPath != "" {
		fmt.Fprintf(out, "\nSpeech: %s\n", answer.AudioPath)
	}
	return nil
}
