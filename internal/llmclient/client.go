// Package llmclient is an HTTP client against an OpenAI-compatible
// chat-completions + embeddings API (§6), with rate limiting and the
// `{name, strict, schema}` envelope unwrap that structured extraction
// needs (§4.4 step 1).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"github.com/jobmatch-ai/pipeline/internal/config"
)

// Client implements interfaces.LLMProvider against one OpenAI-compatible
// base URL for chat completions, and optionally a second base URL for
// embeddings (etl.llm.embedding_base_url).
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter

	chatBaseURL string
	chatAPIKey  string

	embedBaseURL string
	embedAPIKey  string

	extractionModel       string
	embeddingModel        string
	embeddingDimensions   int
	extractionTemperature float64
}

// New builds a Client from the etl.llm.* config section. ratePerSecond
// bounds outbound request rate the way the teacher's terminal.RateLimiter
// bounds inbound connections, but with a single shared bucket since every
// call targets the same upstream provider.
func New(cfg config.LLMConfig, ratePerSecond float64, burst int) *Client {
	embedBaseURL := cfg.EmbeddingBaseURL
	if embedBaseURL == "" {
		embedBaseURL = cfg.BaseURL
	}
	embedAPIKey := cfg.EmbeddingAPIKey
	if embedAPIKey == "" {
		embedAPIKey = cfg.APIKey
	}

	return &Client{
		httpClient:            &http.Client{Timeout: 60 * time.Second},
		limiter:               rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		chatBaseURL:           cfg.BaseURL,
		chatAPIKey:            cfg.APIKey,
		embedBaseURL:          embedBaseURL,
		embedAPIKey:           embedAPIKey,
		extractionModel:       cfg.ExtractionModel,
		embeddingModel:        cfg.EmbeddingModel,
		embeddingDimensions:   cfg.EmbeddingDimensions,
		extractionTemperature: cfg.ExtractionTemperature,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractStructured calls POST /chat/completions with a strict
// json_schema response format built from the embedded `{name, strict,
// schema}` envelope, unwrapping it to the bare JSON Schema the wire format
// expects, and returns the raw JSON object the model produced.
func (c *Client) ExtractStructured(ctx context.Context, prompt string, schemaName string, envelope []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	responseFormat, err := buildResponseFormat(schemaName, envelope)
	if err != nil {
		return nil, fmt.Errorf("build response_format: %w", err)
	}

	body := chatRequest{
		Model:       c.extractionModel,
		Temperature: c.extractionTemperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPromptFor(schemaName)},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: responseFormat,
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	respBytes, err := c.post(ctx, c.chatBaseURL+"/chat/completions", c.chatAPIKey, reqBytes)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	content := []byte(parsed.Choices[0].Message.Content)
	if envSchema := gjson.GetBytes(envelope, "schema").Raw; envSchema != "" {
		if err := validateAgainstSchema(content, []byte(envSchema)); err != nil {
			return content, fmt.Errorf("%w: %w", ErrSchemaValidation, err)
		}
	}
	return content, nil
}

// buildResponseFormat unwraps the embedded `{name, strict, schema}`
// envelope into the `response_format` object the chat-completions wire
// format expects, so the model receives the actual JSON Schema rather than
// the wrapper around it.
func buildResponseFormat(schemaName string, envelope []byte) (json.RawMessage, error) {
	name := gjson.GetBytes(envelope, "name").String()
	if name == "" {
		name = schemaName
	}
	strict := gjson.GetBytes(envelope, "strict").Bool()
	schema := gjson.GetBytes(envelope, "schema").Raw
	if schema == "" {
		schema = string(envelope)
	}

	out := `{"type":"json_schema"}`
	var err error
	out, err = sjson.Set(out, "json_schema.name", name)
	if err != nil {
		return nil, err
	}
	out, err = sjson.Set(out, "json_schema.strict", strict)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetRaw(out, "json_schema.schema", schema)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// ErrSchemaValidation marks an extraction result that failed schema
// validation (§7 "Validation" error class): the caller logs the raw
// payload and leaves the item in its pre-extraction state.
var ErrSchemaValidation = fmt.Errorf("llm output failed schema validation")

func validateAgainstSchema(document, schema []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%v", msgs)
	}
	return nil
}

func systemPromptFor(schemaName string) string {
	switch schemaName {
	case "facet":
		return "Extract the seven facet texts verbatim from the job posting below. Do not invent information not present in the text."
	case "resume":
		return "Normalize the resume below into the structured profile schema. Preserve free text verbatim; never infer missing dates or skills."
	default:
		return "Extract qualification units classified as required/preferred/responsibility/benefit verbatim from the job posting below."
	}
}

type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls POST /embeddings and returns the provider's vectors, one per
// input text, in order. The vectors are returned as received; Embed does not
// normalize them to unit length.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	body := embeddingsRequest{
		Input:      texts,
		Model:      c.embeddingModel,
		Dimensions: c.embeddingDimensions,
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	respBytes, err := c.post(ctx, c.embedBaseURL+"/embeddings", c.embedAPIKey, reqBytes)
	if err != nil {
		return nil, err
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response count mismatch: got %d, want %d", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, url, apiKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, string(respBytes))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTerminal, resp.StatusCode, string(respBytes))
	}
	return respBytes, nil
}

// ErrTransient marks a 5xx/connection failure: callers retry at the
// smallest useful scope (§7 "Transient I/O").
var ErrTransient = fmt.Errorf("llm client transient error")

// ErrTerminal marks a 4xx failure: callers do not retry.
var ErrTerminal = fmt.Errorf("llm client terminal error")
