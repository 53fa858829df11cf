package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const geminiName = "gemini"

// GeminiClient speaks the Google Generative Language REST API.
// It serves translation and QA extraction via generateContent.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient creates a Gemini client for the given endpoint
func NewGeminiClient(apiKey, baseURL string, httpClient *http.Client) *GeminiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name returns the engine identifier
func (c *GeminiClient) Name() string {
	return geminiName
}

// Translate renders the transcript into the target language
func (c *GeminiClient) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	instruction := fmt.Sprintf(
		"Translate the following text into %s. Reply with the translation only.\n\n%s",
		req.TargetLanguage, req.Text)

	text, err := c.generate(ctx, req.Model, instruction)
	if err != nil {
		return nil, err
	}
	return &TranslateResult{Text: text}, nil
}

// ExtractQA pulls question/answer pairs out of a transcript
func (c *GeminiClient) ExtractQA(ctx context.Context, req QARequest) ([]QAPair, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = "Extract every question asked in the transcript together with its answer. " +
			`Reply with a JSON array of objects: [{"question": "...", "answer": "..."}]. ` +
			"Reply with [] if the transcript contains no questions."
	}

	text, err := c.generate(ctx, req.Model, prompt+"\n\nTranscript:\n"+req.Transcript)
	if err != nil {
		return nil, err
	}
	return parseQAPairs(geminiName, text)
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClient) generate(ctx context.Context, model, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", Errorf(geminiName, FailureAuth, "missing API key")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", Errorf(geminiName, FailureInvalidInput, "empty input text")
	}

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", NewError(geminiName, FailureProvider, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", NewError(geminiName, FailureProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", NewError(geminiName, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", Errorf(geminiName, classifyStatus(resp.StatusCode),
			"http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", NewError(geminiName, FailureProvider, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", Errorf(geminiName, FailureProvider, "no candidates in response")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
