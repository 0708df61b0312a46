package audio_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-tutor/internal/domain"
	"vision-tutor/internal/infra/audio"
)

// validatingAsker runs the real validator and fakes the remote stages.
type validatingAsker struct {
	validator *audio.Validator
	outDir    string
	err       error
	queries   []domain.Query
}

func (a *validatingAsker) Ask(_ context.Context, q domain.Query) (*domain.Answer, error) {
	a.queries = append(a.queries, q)
	if _, err := a.validator.TranscriptionEligible(q.AudioPath); err != nil {
		return nil, err
	}
	if a.err != nil {
		return nil, a.err
	}

	speech := filepath.Join(a.outDir, "speech.mp3")
	if err := os.WriteFile(speech, []byte{0xFF, 0xFB, 0x90, 0x00}, 0o644); err != nil {
		return nil, err
	}
	analysis := domain.NoImageAnalysis
	if q.ImagePath != "" {
		analysis = "a hand radiograph"
	}
	return &domain.Answer{Transcript: "what bone is this", Analysis: analysis, AudioPath: speech}, nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func newInbox(t *testing.T, asker *validatingAsker) (*audio.Inbox, string) {
	t.Helper()
	return newInboxWith(t, asker, audio.InboxOptions{})
}

func newInboxWith(t *testing.T, asker *validatingAsker, opts audio.InboxOptions) (*audio.Inbox, string) {
	t.Helper()
	dir := t.TempDir()
	asker.validator = audio.NewValidator(0)
	asker.outDir = t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return audio.NewInbox(dir, asker, opts, logger), dir
}

func put(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func TestInbox_PairsAudioWithImage(t *testing.T) {
	asker := &validatingAsker{}
	inbox, dir := newInbox(t, asker)

	put(t, dir, "q1.wav", wavHeader)
	put(t, dir, "q1.PNG", []byte("png"))
	put(t, dir, "notes.txt", []byte("ignored"))

	n, err := inbox.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, asker.queries, 1)
	assert.Equal(t, filepath.Join(dir, "q1.PNG"), asker.queries[0].ImagePath)

	answer, err := os.ReadFile(filepath.Join(dir, "q1.answer.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(answer), "what bone is this")
	assert.Contains(t, string(answer), "a hand radiograph")

	assert.FileExists(t, filepath.Join(dir, "q1.answer.mp3"))
	assert.FileExists(t, filepath.Join(dir, "q1.wav.processed"))
	assert.FileExists(t, filepath.Join(dir, "q1.PNG.processed"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	n, err = inbox.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "generated speech is not picked up as a question")
}

func TestInbox_AudioOnly(t *testing.T) {
	asker := &validatingAsker{}
	inbox, dir := newInbox(t, asker)

	put(t, dir, "q2.mp3", []byte{0xFF, 0xF3, 0x00, 0x00})

	_, err := inbox.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, asker.queries, 1)
	assert.Empty(t, asker.queries[0].ImagePath)

	answer, err := os.ReadFile(filepath.Join(dir, "q2.answer.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(answer), domain.NoImageAnalysis)
}

func TestInbox_RejectsInvalidAudio(t *testing.T) {
	asker := &validatingAsker{}
	inbox, dir := newInbox(t, asker)

	put(t, dir, "bad.mp3", []byte("ID3\x04"))
	put(t, dir, "bad.jpg", []byte("jpg"))

	_, err := inbox.Poll(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "bad.mp3.rejected"))
	assert.FileExists(t, filepath.Join(dir, "bad.jpg"), "image is left untouched")
	assert.NoFileExists(t, filepath.Join(dir, "bad.answer.txt"))

	n, err := inbox.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInbox_Notifies(t *testing.T) {
	notifier := &recordingNotifier{}
	asker := &validatingAsker{}
	inbox, dir := newInboxWith(t, asker, audio.InboxOptions{Notifier: notifier})

	put(t, dir, "good.wav", wavHeader)
	put(t, dir, "good.jpeg", []byte("jpg"))
	put(t, dir, "empty.m4a", nil)

	_, err := inbox.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[0], "empty.m4a rejected")
	assert.Equal(t, "good: a hand radiograph", notifier.messages[1])
}

func TestInbox_ServiceFailureIsNotRetried(t *testing.T) {
	asker := &validatingAsker{err: &domain.ServiceError{Stage: domain.StageTranscribe, Err: errors.New("503")}}
	inbox, dir := newInbox(t, asker)

	put(t, dir, "q3.wav", wavHeader)

	_, err := inbox.Poll(context.Background())
	require.NoError(t, err)
	_, err = inbox.Poll(context.Background())
	require.NoError(t, err)

	assert.Len(t, asker.queries, 1)
	assert.FileExists(t, filepath.Join(dir, "q3.wav"))
}

func TestInbox_RunStopsOnCancel(t *testing.T) {
	asker := &validatingAsker{}
	inbox, dir := newInbox(t, asker)
	put(t, dir, "q4.wav", wavHeader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inbox.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "q4.wav.processed"))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
