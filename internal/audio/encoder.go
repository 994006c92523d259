package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// HeadroomFactor attenuates every sample before quantization.
	HeadroomFactor = 0.85

	// WAVHeaderSize is the size of the canonical PCM RIFF header.
	WAVHeaderSize = 44

	encodedChannels = 2
	bitsPerSample   = 16
	bytesPerSample  = bitsPerSample / 8
	formatPCM       = 1
)

// WAVHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data length
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Artifact is an encoded stereo 16-bit PCM WAV file.
type Artifact struct {
	Data       []byte        `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	Samples    int           `json:"samples"`
	Duration   time.Duration `json:"duration"`
}

// Size returns the artifact size in bytes.
func (a *Artifact) Size() int {
	return len(a.Data)
}

// Seconds returns the duration in seconds.
func (a *Artifact) Seconds() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(a.Samples) / float64(a.SampleRate)
}

// EncodeError reports input the encoder cannot turn into a WAV file.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string {
	return "wav encode: " + e.Reason
}

// Encode interleaves the left and right buffers and writes them as a
// stereo 16-bit PCM WAV file. The left buffer is authoritative for the
// sample count; a missing or short right block is replaced by the left
// block at the same index. Zero samples produce a header-only file.
func Encode(left, right [][]float32, sampleRate int) (*Artifact, error) {
	if sampleRate <= 0 {
		return nil, &EncodeError{Reason: fmt.Sprintf("sample rate must be positive, got %d", sampleRate)}
	}

	n := 0
	for _, block := range left {
		n += len(block)
	}

	dataSize := n * encodedChannels * bytesPerSample
	if uint64(dataSize)+36 > math.MaxUint32 {
		return nil, &EncodeError{Reason: fmt.Sprintf("%d samples do not fit in a RIFF container", n)}
	}

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   encodedChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * encodedChannels * bytesPerSample,
		BlockAlign:    encodedChannels * bytesPerSample,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+dataSize))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	out := buf.Bytes()[:WAVHeaderSize+dataSize]
	offset := WAVHeaderSize
	for i, l := range left {
		r := l
		if i < len(right) && len(right[i]) >= len(l) {
			r = right[i]
		}
		for j := range l {
			binary.LittleEndian.PutUint16(out[offset:], uint16(Quantize(l[j])))
			binary.LittleEndian.PutUint16(out[offset+2:], uint16(Quantize(r[j])))
			offset += 4
		}
	}

	return &Artifact{
		Data:       out,
		SampleRate: sampleRate,
		Channels:   encodedChannels,
		BitDepth:   bitsPerSample,
		Samples:    n,
		Duration:   time.Duration(n) * time.Second / time.Duration(sampleRate),
	}, nil
}

// Quantize converts one float sample to signed 16-bit PCM with headroom.
// Negative values scale by 32768 and non-negative values by 32767.
func Quantize(x float32) int16 {
	v := float64(x)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v)) * HeadroomFactor
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// PCMEncoder is the default encoder used by recording sessions.
type PCMEncoder struct{}

// Encode implements the session encoder contract.
func (PCMEncoder) Encode(left, right [][]float32, sampleRate int) (*Artifact, error) {
	return Encode(left, right, sampleRate)
}
