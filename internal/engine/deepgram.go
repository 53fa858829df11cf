package engine

import (
	"context"
	"strings"

	listenv1rest "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const deepgramName = "deepgram"

// DeepgramClient transcribes segment artifacts through Deepgram's
// prerecorded REST API
type DeepgramClient struct {
	apiKey string
}

// NewDeepgramClient creates a Deepgram transcription client
func NewDeepgramClient(apiKey string) *DeepgramClient {
	return &DeepgramClient{apiKey: apiKey}
}

// Name returns the engine identifier
func (c *DeepgramClient) Name() string {
	return deepgramName
}

// Transcribe uploads the segment artifact for prerecorded transcription
func (c *DeepgramClient) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	if c.apiKey == "" {
		return nil, Errorf(deepgramName, FailureAuth, "missing API key")
	}

	rest := listenClient.NewREST(c.apiKey, &interfaces.ClientOptions{})
	dg := listenv1rest.New(rest)

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       req.Model,
		Language:    req.Language,
		Punctuate:   true,
		SmartFormat: true,
	}

	res, err := dg.FromFile(ctx, req.AudioPath, options)
	if err != nil {
		return nil, NewError(deepgramName, classifyTransport(err), err)
	}

	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return nil, Errorf(deepgramName, FailureProvider, "no alternatives in response")
	}

	channel := res.Results.Channels[0]
	text := strings.TrimSpace(channel.Alternatives[0].Transcript)
	if text == "" {
		return nil, Errorf(deepgramName, FailureProvider, "empty transcription result")
	}

	return &TranscribeResult{
		Text:             text,
		DetectedLanguage: channel.DetectedLanguage,
	}, nil
}
