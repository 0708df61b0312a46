package domain

import (
	"strings"
	"time"
)

type AudioFormat string

const (
	AudioFormatWAV AudioFormat = "wav"
	AudioFormatMP3 AudioFormat = "mp3"
	AudioFormatM4A AudioFormat = "m4a"
)

// DefaultMaxAudioBytes is the upload ceiling used when none is configured.
const DefaultMaxAudioBytes int64 = 50_000_000

// HeaderSize is how many leading bytes are inspected for a signature.
const HeaderSize = 4

// Signature is one accepted byte prefix for a container format.
type Signature []byte

// Signatures lists the accepted leading bytes per format. A file matches when
// its header starts with any of the listed prefixes.
var Signatures = map[AudioFormat][]Signature{
	AudioFormatWAV: {[]byte("RIFF")},
	AudioFormatMP3: {{0xFF, 0xFB}, {0xFF, 0xF3}},
	// The three-zero-byte prefix is looser than a real ISO-BMFF box check but
	// existing clients send files that only match it.
	AudioFormatM4A: {[]byte("ftyp"), {0x00, 0x00, 0x00}},
}

// SupportedFormats returns the accepted formats in a stable order.
func SupportedFormats() []AudioFormat {
	return []AudioFormat{AudioFormatWAV, AudioFormatMP3, AudioFormatM4A}
}

// ParseAudioFormat maps a file extension (with or without the dot, any case)
// to a supported format.
func ParseAudioFormat(ext string) (AudioFormat, bool) {
	f := AudioFormat(strings.ToLower(strings.TrimPrefix(ext, ".")))
	if _, ok := Signatures[f]; !ok {
		return "", false
	}
	return f, true
}

// Matches reports whether header starts with one of the format's signatures.
func (f AudioFormat) Matches(header []byte) bool {
	for _, sig := range Signatures[f] {
		if len(header) >= len(sig) && string(header[:len(sig)]) == string(sig) {
			return true
		}
	}
	return false
}

// AudioInfo is the result of a successful validation.
type AudioInfo struct {
	Format    AudioFormat `json:"format"`
	SizeBytes int64       `json:"size_bytes"`
}

// TranscriptionGate is returned by the pre-transcription check.
type TranscriptionGate struct {
	Path string `json:"path"`
	AudioInfo
}

// WAVInfo holds metadata decoded from a RIFF/WAVE header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int64
	Duration      time.Duration
}
