package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVInfo describes a WAV file.
type WAVInfo struct {
	SampleRate    int           `json:"sample_rate"`
	Channels      int           `json:"channels"`
	BitsPerSample int           `json:"bits_per_sample"`
	AudioFormat   int           `json:"audio_format"`
	DataSize      int           `json:"data_size_bytes"`
	Samples       int           `json:"samples_per_channel"`
	Duration      time.Duration `json:"duration"`
}

// ValidateWAV checks the RIFF, WAVE, fmt and data markers of a canonical
// header without decoding the audio data.
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); int(size) > len(data)-WAVHeaderSize {
		return fmt.Errorf("invalid WAV file: data chunk claims %d bytes, %d present", size, len(data)-WAVHeaderSize)
	}
	return nil
}

// ReadInfo parses a WAV stream with the go-audio decoder.
func ReadInfo(r io.ReadSeeker) (*WAVInfo, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("not a valid WAV file")
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind WAV stream: %w", err)
	}

	d = wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("failed to read WAV info: %w", err)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to locate PCM data: %w", err)
	}

	info := &WAVInfo{
		SampleRate:    int(d.SampleRate),
		Channels:      int(d.NumChans),
		BitsPerSample: int(d.BitDepth),
		AudioFormat:   int(d.WavAudioFormat),
		DataSize:      d.PCMSize,
	}
	if frameSize := info.Channels * info.BitsPerSample / 8; frameSize > 0 {
		info.Samples = info.DataSize / frameSize
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(info.Samples) * time.Second / time.Duration(info.SampleRate)
	}
	return info, nil
}

// ReadInfoBytes is ReadInfo for an in-memory file.
func ReadInfoBytes(data []byte) (*WAVInfo, error) {
	return ReadInfo(bytes.NewReader(data))
}

// DecodePCM decodes a 16-bit WAV file into per-channel integer samples.
func DecodePCM(data []byte) ([][]int, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode PCM: %w", err)
	}
	return splitChannels(buf)
}

func splitChannels(buf *goaudio.IntBuffer) ([][]int, int, error) {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("decoded PCM has no channel layout")
	}

	channels := buf.Format.NumChannels
	out := make([][]int, channels)
	frames := len(buf.Data) / channels
	for ch := range out {
		out[ch] = make([]int, frames)
	}
	for i := 0; i < frames*channels; i++ {
		out[i%channels][i/channels] = buf.Data[i]
	}
	return out, buf.Format.SampleRate, nil
}
