package application_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-tutor/internal/application"
	"vision-tutor/internal/domain"
	"vision-tutor/internal/infra/audio"
)

type recorder struct {
	calls []string
}

type mockSTT struct {
	rec  *recorder
	text string
	err  error
}

func (m *mockSTT) Transcribe(_ context.Context, path string) (string, error) {
	m.rec.calls = append(m.rec.calls, "transcribe:"+filepath.Base(path))
	return m.text, m.err
}

type mockEncoder struct {
	rec *recorder
	err error
}

func (m *mockEncoder) Encode(path string) (domain.EncodedImage, error) {
	m.rec.calls = append(m.rec.calls, "encode:"+filepath.Base(path))
	if m.err != nil {
		return domain.EncodedImage{}, m.err
	}
	return domain.EncodedImage{Base64: "aW1n", MimeType: "image/png", Width: 1, Height: 1}, nil
}

type mockVision struct {
	rec    *recorder
	reply  string
	err    error
	prompt string
	image  domain.EncodedImage
}

func (m *mockVision) Analyze(_ context.Context, prompt string, image domain.EncodedImage) (string, error) {
	m.rec.calls = append(m.rec.calls, "analyze")
	m.prompt = prompt
	m.image = image
	return m.reply, m.err
}

type mockSpeaker struct {
	rec  *recorder
	err  error
	text string
}

func (m *mockSpeaker) Speak(_ context.Context, text, outPath string) error {
	m.rec.calls = append(m.rec.calls, "speak")
	m.text = text
	if m.err != nil {
		// a stream cut off midway leaves a partial file behind
		os.WriteFile(outPath, []byte{0xFF}, 0644)
		return m.err
	}
	return os.WriteFile(outPath, []byte{0xFF, 0xFB, 0x90, 0x64}, 0644)
}

type countingObserver struct {
	stages     map[string]int
	failures   map[string]int
	rejections map[domain.ErrorKind]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		stages:     map[string]int{},
		failures:   map[string]int{},
		rejections: map[domain.ErrorKind]int{},
	}
}

func (o *countingObserver) ObserveStage(stage string, _ time.Duration, err error) {
	o.stages[stage]++
	if err != nil {
		o.failures[stage]++
	}
}

func (o *countingObserver) ObserveRejection(kind domain.ErrorKind) {
	o.rejections[kind]++
}

type fixture struct {
	rec      *recorder
	stt      *mockSTT
	encoder  *mockEncoder
	vision   *mockVision
	speaker  *mockSpeaker
	observer *countingObserver
	outDir   string
	audio    string
	image    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	dir := t.TempDir()

	audioPath := filepath.Join(dir, "question.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF\x24\x00\x00\x00WAVE"), 0644))
	imagePath := filepath.Join(dir, "scan.png")
	require.NoError(t, os.WriteFile(imagePath, []byte("png"), 0644))

	return &fixture{
		rec:      rec,
		stt:      &mockSTT{rec: rec, text: "  what is this?  "},
		encoder:  &mockEncoder{rec: rec},
		vision:   &mockVision{rec: rec, reply: "This is an X-ray of a hand.\n"},
		speaker:  &mockSpeaker{rec: rec},
		observer: newCountingObserver(),
		outDir:   filepath.Join(dir, "out"),
		audio:    audioPath,
		image:    imagePath,
	}
}

func (f *fixture) assistant(prompt string) *application.Assistant {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return application.NewAssistant(
		audio.NewValidator(1024),
		f.stt,
		f.encoder,
		f.vision,
		f.speaker,
		f.observer,
		application.Options{SystemPrompt: prompt, OutputDir: f.outDir},
		logger,
	)
}

func TestAssistant_Ask(t *testing.T) {
	f := newFixture(t)

	answer, err := f.assistant("Describe the image.").Ask(context.Background(), domain.Query{
		AudioPath: f.audio,
		ImagePath: f.image,
	})
	require.NoError(t, err)

	assert.Equal(t, "what is this?", answer.Transcript)
	assert.Equal(t, "This is an X-ray of a hand.", answer.Analysis)
	assert.Equal(t, []string{"transcribe:question.wav", "encode:scan.png", "analyze", "speak"}, f.rec.calls)

	assert.Equal(t, "Describe the image.\n\nwhat is this?", f.vision.prompt)
	assert.Equal(t, "image/png", f.vision.image.MimeType)
	assert.Equal(t, answer.Analysis, f.speaker.text)

	assert.Equal(t, f.outDir, filepath.Dir(answer.AudioPath))
	assert.True(t, strings.HasSuffix(answer.AudioPath, ".mp3"))
	assert.FileExists(t, answer.AudioPath)

	for _, stage := range []string{domain.StageTranscribe, domain.StageEncodeImage, domain.StageAnalyze, domain.StageSynthesize} {
		assert.Equal(t, 1, f.observer.stages[stage], stage)
	}
	assert.Empty(t, f.observer.failures)
}

func TestAssistant_AskWithoutImage(t *testing.T) {
	f := newFixture(t)

	answer, err := f.assistant("").Ask(context.Background(), domain.Query{AudioPath: f.audio})
	require.NoError(t, err)

	assert.Equal(t, domain.NoImageAnalysis, answer.Analysis)
	assert.Equal(t, []string{"transcribe:question.wav", "speak"}, f.rec.calls)
	assert.Equal(t, domain.NoImageAnalysis, f.speaker.text)
}

func TestAssistant_AskWithoutSpeaker(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := application.NewAssistant(
		audio.NewValidator(1024),
		f.stt,
		f.encoder,
		f.vision,
		nil,
		f.observer,
		application.Options{OutputDir: f.outDir},
		logger,
	)

	answer, err := a.Ask(context.Background(), domain.Query{AudioPath: f.audio, ImagePath: f.image})
	require.NoError(t, err)

	assert.Empty(t, answer.AudioPath)
	assert.Equal(t, []string{"transcribe:question.wav", "encode:scan.png", "analyze"}, f.rec.calls)
	assert.NoDirExists(t, f.outDir)
}

func TestAssistant_PromptWithoutSystemPrompt(t *testing.T) {
	f := newFixture(t)

	_, err := f.assistant("").Ask(context.Background(), domain.Query{AudioPath: f.audio, ImagePath: f.image})
	require.NoError(t, err)
	assert.Equal(t, "what is this?", f.vision.prompt)
}

func TestAssistant_RejectsInvalidAudioBeforeAnyCall(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.wav")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	corrupt := filepath.Join(dir, "bad.mp3")
	require.NoError(t, os.WriteFile(corrupt, []byte("ID3\x04"), 0644))
	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("test"), 0644))
	big := filepath.Join(dir, "big.wav")
	require.NoError(t, os.WriteFile(big, make([]byte, 2048), 0644))

	tests := []struct {
		path string
		want error
	}{
		{filepath.Join(dir, "missing.wav"), domain.ErrNotFound},
		{text, domain.ErrUnsupportedFormat},
		{empty, domain.ErrEmptyFile},
		{big, domain.ErrFileTooLarge},
		{corrupt, domain.ErrCorruptFile},
	}

	a := f.assistant("")
	for _, tt := range tests {
		_, err := a.Ask(context.Background(), domain.Query{AudioPath: tt.path, ImagePath: f.image})
		require.ErrorIs(t, err, tt.want)

		var svcErr *domain.ServiceError
		assert.False(t, errors.As(err, &svcErr), "validation errors must not be wrapped")
	}

	assert.Empty(t, f.rec.calls)
	assert.Len(t, f.observer.rejections, 5)
}

func TestAssistant_StageFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantStage string
		wantCalls []string
	}{
		{
			name:      "transcription fails",
			setup:     func(f *fixture) { f.stt.err = boom },
			wantStage: domain.StageTranscribe,
			wantCalls: []string{"transcribe:question.wav"},
		},
		{
			name:      "empty transcription",
			setup:     func(f *fixture) { f.stt.text = "   " },
			wantStage: domain.StageTranscribe,
			wantCalls: []string{"transcribe:question.wav"},
		},
		{
			name:      "image encoding fails",
			setup:     func(f *fixture) { f.encoder.err = boom },
			wantStage: domain.StageEncodeImage,
			wantCalls: []string{"transcribe:question.wav", "encode:scan.png"},
		},
		{
			name:      "vision fails",
			setup:     func(f *fixture) { f.vision.err = boom },
			wantStage: domain.StageAnalyze,
			wantCalls: []string{"transcribe:question.wav", "encode:scan.png", "analyze"},
		},
		{
			name:      "speech fails",
			setup:     func(f *fixture) { f.speaker.err = boom },
			wantStage: domain.StageSynthesize,
			wantCalls: []string{"transcribe:question.wav", "encode:scan.png", "analyze", "speak"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			_, err := f.assistant("").Ask(context.Background(), domain.Query{AudioPath: f.audio, ImagePath: f.image})

			var svcErr *domain.ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantStage, svcErr.Stage)
			assert.Equal(t, tt.wantCalls, f.rec.calls)
			assert.Equal(t, 1, f.observer.failures[tt.wantStage])

			leftovers, err := filepath.Glob(filepath.Join(f.outDir, "*"))
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

func TestAssistant_MissingImageKeepsNotExist(t *testing.T) {
	f := newFixture(t)
	f.encoder.err = &fs.PathError{Op: "open", Path: "gone.png", Err: fs.ErrNotExist}

	_, err := f.assistant("").Ask(context.Background(), domain.Query{AudioPath: f.audio, ImagePath: "gone.png"})
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestAssistant_Validate(t *testing.T) {
	f := newFixture(t)
	a := f.assistant("")

	info, err := a.Validate(f.audio)
	require.NoError(t, err)
	assert.Equal(t, domain.AudioFormatWAV, info.Format)

	_, err = a.Validate(f.image)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.Equal(t, 1, f.observer.rejections[domain.KindUnsupportedFormat])
	assert.Empty(t, f.rec.calls)
}
