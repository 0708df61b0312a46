package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vision-tutor/internal/domain"
)

const (
	processedSuffix = ".processed"
	rejectedSuffix  = ".rejected"
	answerSuffix    = ".answer.txt"
	speechSuffix    = ".answer.mp3"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// Asker runs a single query through the pipeline.
type Asker interface {
	Ask(ctx context.Context, q domain.Query) (*domain.Answer, error)
}

// Notifier is told about finished and rejected inbox jobs.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type InboxOptions struct {
	Interval time.Duration
	Notifier Notifier
	// Settle skips files modified more recently than this, so partially
	// copied files are not picked up.
	Settle time.Duration
}

// Inbox polls a directory for audio questions. An audio file may be paired
// with an image sharing its base name.
type Inbox struct {
	dir      string
	opts     InboxOptions
	pipeline Asker
	logger   *slog.Logger
	failed   map[string]bool
}

func NewInbox(dir string, pipeline Asker, opts InboxOptions, logger *slog.Logger) *Inbox {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	return &Inbox{
		dir:      dir,
		opts:     opts,
		pipeline: pipeline,
		logger:   logger,
		failed:   make(map[string]bool),
	}
}

func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		return fmt.Errorf("creating inbox dir: %w", err)
	}

	in.logger.Info("watching inbox", "dir", in.dir, "interval", in.opts.Interval)

	ticker := time.NewTicker(in.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := in.Poll(ctx); err != nil {
				return err
			}
		}
	}
}

type inboxJob struct {
	base  string
	audio string
	image string
}

// Poll processes every pending job once and returns how many were handled.
func (in *Inbox) Poll(ctx context.Context) (int, error) {
	jobs, err := in.pending()
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		in.process(ctx, job)
	}
	return len(jobs), nil
}

func (in *Inbox) pending() ([]inboxJob, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("reading dir: %w", err)
	}

	byName := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			byName[strings.ToLower(entry.Name())] = entry.Name()
		}
	}

	var jobs []inboxJob
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if _, ok := domain.ParseAudioFormat(ext); !ok || strings.HasSuffix(name, speechSuffix) {
			continue
		}

		path := filepath.Join(in.dir, name)
		if in.failed[path] || !in.settled(entry) {
			continue
		}

		base := strings.TrimSuffix(name, ext)
		job := inboxJob{base: base, audio: path}
		for _, imgExt := range imageExtensions {
			if img, ok := byName[strings.ToLower(base+imgExt)]; ok {
				job.image = filepath.Join(in.dir, img)
				break
			}
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].audio < jobs[j].audio })
	return jobs, nil
}

func (in *Inbox) settled(entry os.DirEntry) bool {
	if in.opts.Settle <= 0 {
		return true
	}
	info, err := entry.Info()
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) >= in.opts.Settle
}

func (in *Inbox) process(ctx context.Context, job inboxJob) {
	logger := in.logger.With("audio", filepath.Base(job.audio))
	if job.image != "" {
		logger = logger.With("image", filepath.Base(job.image))
	}
	logger.Info("processing inbox job")

	answer, err := in.pipeline.Ask(ctx, domain.Query{AudioPath: job.audio, ImagePath: job.image})
	if err != nil {
		var audioErr *domain.AudioError
		if errors.As(err, &audioErr) {
			logger.Warn("audio rejected", "kind", audioErr.Kind, "reason", audioErr.Message)
			in.markDone(job.audio, rejectedSuffix, logger)
			in.notify(ctx, fmt.Sprintf("%s rejected: %s", filepath.Base(job.audio), audioErr.Message), logger)
			return
		}
		logger.Error("inbox job failed", "error", err)
		in.failed[job.audio] = true
		return
	}

	if err := in.writeAnswer(job, answer); err != nil {
		logger.Error("writing answer", "error", err)
		in.failed[job.audio] = true
		return
	}

	in.markDone(job.audio, processedSuffix, logger)
	if job.image != "" {
		in.markDone(job.image, processedSuffix, logger)
	}
	logger.Info("inbox job done", "answer", job.base+answerSuffix)
	in.notify(ctx, fmt.Sprintf("%s: %s", job.base, answer.Analysis), logger)
}

func (in *Inbox) notify(ctx context.Context, message string, logger *slog.Logger) {
	if in.opts.Notifier == nil {
		return
	}
	if err := in.opts.Notifier.Notify(ctx, message); err != nil {
		logger.Warn("sending notification", "error", err)
	}
}

func (in *Inbox) writeAnswer(job inboxJob, answer *domain.Answer) error {
	speech := answer.AudioPath
	if speech != "" {
		target := filepath.Join(in.dir, job.base+speechSuffix)
		if err := os.Rename(speech, target); err == nil {
			speech = target
		} else {
			in.logger.Warn("speech left in output dir", "path", speech, "error", err)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", answer.Transcript)
	fmt.Fprintf(&sb, "Answer: %s\n", answer.Analysis)
	if speech != "" {
		fmt.Fprintf(&sb, "\nSpeech: %s\n", speech)
	}

	path := filepath.Join(in.dir, job.base+answerSuffix)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (in *Inbox) markDone(path, suffix string, logger *slog.Logger) {
	if err := os.Rename(path, path+suffix); err != nil {
		logger.Error("renaming inbox file", "path", path, "error", err)
		in.failed[path] = true
	}
}
