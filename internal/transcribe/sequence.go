package transcribe

import (
	"mime"
	"sort"
	"strings"

	"github.com/loqalabs/carevoice/internal/stt"
)

type formatGuess struct {
	encoding   stt.Encoding
	sampleRate int
}

var preferredFormats = map[string]formatGuess{
	"audio/wav":   {stt.EncodingLinear16, 16000},
	"audio/x-wav": {stt.EncodingLinear16, 16000},
	"audio/wave":  {stt.EncodingLinear16, 16000},
	"audio/webm":  {stt.EncodingWebMOpus, 48000},
	"audio/ogg":   {stt.EncodingOggOpus, 48000},
	"audio/mpeg":  {stt.EncodingMP3, 0},
	"audio/mp3":   {stt.EncodingMP3, 0},
	"audio/mp4":   {stt.EncodingMP3, 0},
}

// Browsers record WEBM/Opus at 48kHz unless told otherwise.
var browserDefault = formatGuess{stt.EncodingWebMOpus, 48000}

// SupportedContentTypes lists the content types with a dedicated first guess.
func SupportedContentTypes() []string {
	types := make([]string, 0, len(preferredFormats))
	for ct := range preferredFormats {
		types = append(types, ct)
	}
	sort.Strings(types)
	return types
}

// BuildSequence returns the recognition configs to try, in order, for audio declared
// with contentType. The last entry always leaves the encoding to the backend.
func BuildSequence(contentType string, opts Options) []stt.RecognitionConfig {
	domain := func(g formatGuess) stt.RecognitionConfig {
		return stt.RecognitionConfig{
			Encoding:        g.encoding,
			SampleRateHz:    g.sampleRate,
			LanguageCode:    opts.Language,
			DomainModel:     opts.DomainModel,
			AutoPunctuation: opts.AutoPunctuation,
		}
	}

	candidates := make([]stt.RecognitionConfig, 0, 3)
	if guess, ok := preferredFormats[mediaType(contentType)]; ok {
		candidates = append(candidates, domain(guess))
	}
	candidates = append(candidates, domain(browserDefault))
	candidates = append(candidates, stt.RecognitionConfig{
		Encoding:        stt.EncodingAuto,
		LanguageCode:    opts.Language,
		DomainModel:     opts.FallbackModel,
		AutoPunctuation: opts.AutoPunctuation,
	})

	seq := candidates[:0]
	seen := make(map[stt.RecognitionConfig]bool, len(candidates))
	for _, cfg := range candidates {
		if seen[cfg] {
			continue
		}
		seen[cfg] = true
		seq = append(seq, cfg)
	}
	return seq
}

// mediaType drops parameters such as codecs=opus and lower-cases the rest.
func mediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func isAudioType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "audio/")
}
