package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"vision-tutor/internal/domain"
)

// DefaultSampleRate is the microphone capture rate, which speech models accept
// without resampling.
const DefaultSampleRate = 16000

var errNotWAV = errors.New("not a RIFF/WAVE file")

// ProbeWAV reads the fmt and data chunks of a WAV file. It only walks chunk
// headers and never decodes samples.
func ProbeWAV(path string) (domain.WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.WAVInfo{}, fmt.Errorf("opening wav: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return domain.WAVInfo{}, fmt.Errorf("stat wav: %w", err)
	}
	return readWAVInfo(f, st.Size())
}

// readWAVInfo walks the chunks of a RIFF stream of fileSize bytes. Declared
// chunk sizes are never trusted beyond what the file holds.
func readWAVInfo(r io.Reader, fileSize int64) (domain.WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return domain.WAVInfo{}, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return domain.WAVInfo{}, errNotWAV
	}

	var (
		info    domain.WAVInfo
		haveFmt bool
		hdr     [8]byte
		pos     = int64(len(riff))
	)

	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if haveFmt {
				return domain.WAVInfo{}, fmt.Errorf("missing data chunk")
			}
			return domain.WAVInfo{}, fmt.Errorf("missing fmt chunk")
		}
		pos += int64(len(hdr))
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		remaining := fileSize - pos

		// The data chunk is never read, and streaming writers often leave its
		// size unset.
		if id != "data" && size > remaining {
			return domain.WAVInfo{}, fmt.Errorf("%q chunk declares %d bytes, only %d left in file", id, size, remaining)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return domain.WAVInfo{}, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			var buf [16]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return domain.WAVInfo{}, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if _, err := io.CopyN(io.Discard, r, size-16); err != nil {
				return domain.WAVInfo{}, fmt.Errorf("reading fmt chunk: %w", err)
			}
			info.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(buf[14:16]))
			haveFmt = true
			if err := skipPad(r, size); err != nil {
				return domain.WAVInfo{}, err
			}
			pos += size + size%2

		case "data":
			if !haveFmt {
				return domain.WAVInfo{}, fmt.Errorf("data chunk before fmt chunk")
			}
			info.DataBytes = size
			bytesPerSecond := int64(info.SampleRate * info.Channels * info.BitsPerSample / 8)
			if bytesPerSecond > 0 {
				info.Duration = time.Duration(size * int64(time.Second) / bytesPerSecond)
			}
			return info, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return domain.WAVInfo{}, fmt.Errorf("skipping %q chunk: %w", id, err)
			}
			if err := skipPad(r, size); err != nil {
				return domain.WAVInfo{}, err
			}
			pos += size + size%2
		}
	}
}

// Chunks are word aligned.
func skipPad(r io.Reader, size int64) error {
	if size%2 == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, 1); err != nil {
		return fmt.Errorf("skipping pad byte: %w", err)
	}
	return nil
}

// EncodeWAV wraps 16-bit mono PCM samples in a canonical WAV container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer

	dataSize := len(samples) * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}
