package audio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"vision-tutor/internal/domain"
)

// Validator gates audio files before they are sent to a paid API. Both
// exported checks share one routine and one size limit.
type Validator struct {
	maxBytes int64
}

func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = domain.DefaultMaxAudioBytes
	}
	return &Validator{maxBytes: maxBytes}
}

func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate checks existence, extension, size and header signature, in that
// order, stopping at the first failure.
func (v *Validator) Validate(path string) (domain.AudioInfo, error) {
	return v.check(path)
}

// TranscriptionEligible runs the same checks as Validate before a file is
// handed to a transcriber.
func (v *Validator) TranscriptionEligible(path string) (domain.TranscriptionGate, error) {
	info, err := v.check(path)
	if err != nil {
		return domain.TranscriptionGate{}, err
	}
	return domain.TranscriptionGate{Path: path, AudioInfo: info}, nil
}

func (v *Validator) check(path string) (domain.AudioInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.AudioInfo{}, &domain.AudioError{
				Kind:    domain.KindNotFound,
				Path:    path,
				Message: "file does not exist",
				Err:     err,
			}
		}
		return domain.AudioInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.IsDir() {
		return domain.AudioInfo{}, &domain.AudioError{
			Kind:    domain.KindNotFound,
			Path:    path,
			Message: "path is a directory",
		}
	}

	ext := filepath.Ext(path)
	format, ok := domain.ParseAudioFormat(ext)
	if !ok {
		return domain.AudioInfo{}, &domain.AudioError{
			Kind:    domain.KindUnsupportedFormat,
			Path:    path,
			Message: fmt.Sprintf("extension %q is not one of wav, mp3, m4a", ext),
		}
	}

	size := stat.Size()
	if size == 0 {
		return domain.AudioInfo{}, &domain.AudioError{
			Kind:    domain.KindEmptyFile,
			Path:    path,
			Message: "file is empty",
		}
	}
	if size > v.maxBytes {
		return domain.AudioInfo{}, &domain.AudioError{
			Kind: domain.KindFileTooLarge,
			Path: path,
			Message: fmt.Sprintf("file is %s, limit is %s",
				humanize.Bytes(uint64(size)), humanize.Bytes(uint64(v.maxBytes))),
			Size:  size,
			Limit: v.maxBytes,
		}
	}

	header, err := readHeader(path)
	if err != nil {
		return domain.AudioInfo{}, err
	}

	if !format.Matches(header) {
		return domain.AudioInfo{}, &domain.AudioError{
			Kind:     domain.KindCorruptFile,
			Path:     path,
			Message:  fmt.Sprintf("header does not match %s signature", format),
			Expected: domain.Signatures[format],
			Observed: header,
		}
	}

	return domain.AudioInfo{Format: format, SizeBytes: size}, nil
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &domain.AudioError{
				Kind:    domain.KindNotFound,
				Path:    path,
				Message: "file disappeared before it could be read",
				Err:     err,
			}
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, domain.HeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	return header[:n], nil
}
