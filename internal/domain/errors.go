package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindEmptyFile         ErrorKind = "empty_file"
	KindFileTooLarge      ErrorKind = "file_too_large"
	KindCorruptFile       ErrorKind = "corrupt_file"
)

var (
	ErrNotFound          = errors.New("audio file not found")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyFile         = errors.New("audio file is empty")
	ErrFileTooLarge      = errors.New("audio file too large")
	ErrCorruptFile       = errors.New("audio file is corrupt")
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:          ErrNotFound,
	KindUnsupportedFormat: ErrUnsupportedFormat,
	KindEmptyFile:         ErrEmptyFile,
	KindFileTooLarge:      ErrFileTooLarge,
	KindCorruptFile:       ErrCorruptFile,
}

// AudioError reports why an audio file was rejected before any external call.
// errors.Is matches it against the Err* sentinel for its Kind.
type AudioError struct {
	Kind    ErrorKind
	Path    string
	Message string

	// Set for KindCorruptFile.
	Expected []Signature
	Observed []byte

	// Set for KindFileTooLarge.
	Size  int64
	Limit int64

	// Underlying OS error, if any.
	Err error
}

func (e *AudioError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Path, e.Message)
	if e.Kind == KindCorruptFile {
		expected := make([]string, 0, len(e.Expected))
		for _, sig := range e.Expected {
			expected = append(expected, hex.EncodeToString(sig))
		}
		fmt.Fprintf(&b, " (expected %s, got %s)", strings.Join(expected, " or "), hex.EncodeToString(e.Observed))
	}
	return b.String()
}

func (e *AudioError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *AudioError) Unwrap() error {
	return e.Err
}

// KindOf returns the validation kind of err, if it is an AudioError.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AudioError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// ServiceError wraps a failure from an external adapter. The cause is not
// classified.
type ServiceError struct {
	Stage string
	Err   error
}

const (
	StageTranscribe  = "transcribe"
	StageEncodeImage = "encode_image"
	StageAnalyze     = "analyze"
	StageSynthesize  = "synthesize"
)

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
