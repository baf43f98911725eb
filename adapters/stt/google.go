package stt

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

const defaultLanguage = "en-US"

// GoogleRecognizer implements SpeechRecognizer using Google Cloud
// Speech-to-Text streaming recognition. Credentials come from the ambient
// GOOGLE_APPLICATION_CREDENTIALS environment.
type GoogleRecognizer struct {
	language string
	logger   *zap.Logger
}

var _ repositories.SpeechRecognizer = (*GoogleRecognizer)(nil)

// NewGoogleRecognizer creates a recognizer; the language defaults to en-US
// and can be overridden with SPEECH_LANGUAGE.
func NewGoogleRecognizer(logger *zap.Logger) *GoogleRecognizer {
	language := os.Getenv("SPEECH_LANGUAGE")
	if language == "" {
		language = defaultLanguage
	}
	return &GoogleRecognizer{language: language, logger: logger}
}

// OpenStream starts one streaming recognition session.
func (g *GoogleRecognizer) OpenStream(ctx context.Context, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	language := config.Language
	if language == "" {
		language = g.language
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    language,
				},
				InterimResults:  false, // We only want final results
				SingleUtterance: true,  // Treat as single utterance
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	rs := &googleStream{
		client:     client,
		stream:     stream,
		ctx:        ctx,
		resultChan: make(chan string, 1),
		errorChan:  make(chan error, 1),
		logger:     g.logger,
	}
	go rs.receiveResults()

	return rs, nil
}

type googleStream struct {
	client        *speech.Client
	stream        speechpb.Speech_StreamingRecognizeClient
	ctx           context.Context
	audioReceived bool
	resultChan    chan string
	errorChan     chan error
	logger        *zap.Logger
}

// Send feeds one chunk of PCM16 samples as little-endian bytes.
func (g *googleStream) Send(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	g.audioReceived = true

	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Close signals end of audio and waits for the final transcript. An empty
// capture reports no audio rather than an API error.
func (g *googleStream) Close() (string, error) {
	defer g.client.Close()

	if !g.audioReceived {
		g.stream.CloseSend()
		return "", fmt.Errorf("no audio received")
	}

	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		return "", err
	case result := <-g.resultChan:
		return result, nil
	}
}

func (g *googleStream) receiveResults() {
	var finalTranscription string

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.resultChan <- finalTranscription
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		// Only final results matter; interim ones are disabled anyway.
		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				finalTranscription = result.Alternatives[0].Transcript
			}
		}
	}
}
