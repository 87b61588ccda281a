package stt

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/loqalabs/carevoice/internal/config"
	"google.golang.org/api/option"
)

// speechClient is the subset of the Cloud Speech client used here.
type speechClient interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// GoogleRecognizer runs synchronous Cloud Speech-to-Text recognition.
type GoogleRecognizer struct {
	client speechClient
}

// NewGoogleRecognizer dials the Speech API once. Without a credentials file it
// relies on Application Default Credentials.
func NewGoogleRecognizer(ctx context.Context, cfg config.STTConfig) (*GoogleRecognizer, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleRecognizer{client: client}, nil
}

// Close cleans up the speech client connection.
func (g *GoogleRecognizer) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GoogleRecognizer) Recognize(ctx context.Context, audio []byte, cfg RecognitionConfig) ([]Result, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: toProtoConfig(cfg),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("recognize %s: %w", cfg, err)
	}

	results := make([]Result, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		alts := make([]Alternative, 0, len(r.GetAlternatives()))
		for _, a := range r.GetAlternatives() {
			alts = append(alts, Alternative{Transcript: a.GetTranscript(), Confidence: float64(a.GetConfidence())})
		}
		results = append(results, Result{Alternatives: alts})
	}
	return results, nil
}

func toProtoConfig(cfg RecognitionConfig) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:                   protoEncoding(cfg.Encoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.DomainModel,
		EnableAutomaticPunctuation: cfg.AutoPunctuation,
	}
}

func protoEncoding(enc Encoding) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16
	case EncodingWebMOpus:
		return speechpb.RecognitionConfig_WEBM_OPUS
	case EncodingOggOpus:
		return speechpb.RecognitionConfig_OGG_OPUS
	case EncodingMP3:
		return speechpb.RecognitionConfig_MP3
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
