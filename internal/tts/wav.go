package tts

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes 16-bit PCM to w as a WAV file. The encoder needs to seek back
// to patch the header, so the file is staged on disk first.
func EncodeWAV(w io.Writer, pcm []byte, sampleRate, channels int) (int64, error) {
	if len(pcm)%2 != 0 {
		return 0, fmt.Errorf("pcm payload not aligned")
	}
	tmp, err := os.CreateTemp("", "carevoice_tts_*.wav")
	if err != nil {
		return 0, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(tmp, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return 0, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("close wav encoder: %w", err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(w, tmp)
}
