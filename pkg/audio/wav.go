package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is returned when a WAV file uses an encoding the
// decoder cannot read.
var ErrUnsupportedFormat = errors.New("audio: unsupported wav encoding")

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// Decoder turns an audio file into a mono [Signal] at a fixed sample rate.
//
// Implementations must be safe for concurrent use.
type Decoder interface {
	Decode(path string) (Signal, error)
}

// WAVDecoder decodes RIFF/WAV files (8/16/24/32-bit integer PCM and 32-bit
// float) and converts them to a mono [Signal] at TargetRate. It holds no
// mutable state and is safe for concurrent use.
type WAVDecoder struct {
	// TargetRate is the output sample rate. Zero means [DefaultSampleRate].
	TargetRate int
}

// Compile-time interface assertion.
var _ Decoder = WAVDecoder{}

// Decode reads and converts the WAV file at path.
func (d WAVDecoder) Decode(path string) (Signal, error) {
	// The wav decoder reads one sample per call; buffer the file.
	data, err := os.ReadFile(path)
	if err != nil {
		return Signal{}, fmt.Errorf("audio: read %q: %w", path, err)
	}
	sig, err := d.decode(bytes.NewReader(data))
	if err != nil {
		return Signal{}, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	return sig, nil
}

// DecodeReader decodes a complete WAV stream from r. Readers that cannot
// seek are buffered in memory first.
func (d WAVDecoder) DecodeReader(r io.Reader) (Signal, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return d.decode(rs)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Signal{}, fmt.Errorf("read wav: %w", err)
	}
	return d.decode(bytes.NewReader(data))
}

func (d WAVDecoder) decode(rs io.ReadSeeker) (Signal, error) {
	dec := wav.NewDecoder(rs)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Signal{}, fmt.Errorf("read wav header: %w", err)
	}
	if dec.NumChans == 0 {
		return Signal{}, errors.New("missing fmt chunk")
	}
	bits := int(dec.BitDepth)
	if !supported(dec.WavAudioFormat, bits) {
		return Signal{}, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedFormat, dec.WavAudioFormat, bits)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("read wav data: %w", err)
	}
	interleaved := normalise(buf.Data, dec.WavAudioFormat, bits)

	from := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	target := d.TargetRate
	if target <= 0 {
		target = DefaultSampleRate
	}
	if from.SampleRate != target || from.Channels != 1 {
		slog.Debug("audio: converting wav",
			"from", formatString(from),
			"to", formatString(Format{SampleRate: target, Channels: 1}),
		)
	}
	return ToSignal(interleaved, from, target)
}

func supported(format uint16, bits int) bool {
	switch format {
	case wavFormatPCM:
		return bits == 8 || bits == 16 || bits == 24 || bits == 32
	case wavFormatFloat:
		return bits == 32
	}
	return false
}

// normalise scales decoded integer samples to [-1, 1]. 8-bit PCM is
// unsigned; 32-bit float samples arrive as their raw bit patterns.
func normalise(data []int, format uint16, bits int) []float32 {
	out := make([]float32, len(data))
	switch {
	case format == wavFormatFloat:
		for i, v := range data {
			out[i] = math.Float32frombits(uint32(int32(v)))
		}
	case bits == 8:
		for i, v := range data {
			out[i] = float32(v-128) / 128
		}
	default:
		scale := float64(int64(1) << (bits - 1))
		for i, v := range data {
			out[i] = float32(float64(v) / scale)
		}
	}
	return out
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// EncodeSignalWAV encodes s as a mono 16-bit WAV file.
func EncodeSignalWAV(s Signal) []byte {
	return EncodeWAV(Float32ToPCM16(s.Samples), s.SampleRate, 1)
}
