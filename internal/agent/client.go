package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.deepseek.com/v1"

// LLMClient is the natural-language side of a consultation: it reads disease
// names out of a complaint, turns a symptom into a question and reads a
// yes/no answer out of a reply.
type LLMClient interface {
	ExtractCandidateDiseases(ctx context.Context, complaint string, limit int) ([]string, error)
	PhraseQuestion(ctx context.Context, symptom string, diseases []string) (string, error)
	InterpretAnswer(ctx context.Context, utterance, symptom, question string) (bool, error)
}

type client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewChatClient talks to any OpenAI-compatible chat completions endpoint.
func NewChatClient(apiKey, baseURL, model string) LLMClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = "deepseek-chat"
	}
	return &client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *client) ExtractCandidateDiseases(ctx context.Context, complaint string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	system := `You are a clinical triage assistant. Reply with a JSON object {"diseases": [...]} and nothing else.`
	prompt := fmt.Sprintf("Patient complaint: %q\nList the most likely diseases by their standard names, at most %d.", complaint, limit)

	content, err := c.complete(ctx, system, prompt, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		Diseases []string `json:"diseases"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("failed to parse disease list: %w", err)
	}
	if len(out.Diseases) > limit {
		out.Diseases = out.Diseases[:limit]
	}
	return out.Diseases, nil
}

func (c *client) PhraseQuestion(ctx context.Context, symptom string, diseases []string) (string, error) {
	system := "You are an experienced doctor who explains medical terms in plain language a patient understands."
	prompt := fmt.Sprintf(
		"Write one short question, and nothing else, asking the patient whether they have the symptom %q. "+
			"Keep it relevant to these suspected conditions: %s.",
		symptom, strings.Join(diseases, ", "))

	content, err := c.complete(ctx, system, prompt, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (c *client) InterpretAnswer(ctx context.Context, utterance, symptom, question string) (bool, error) {
	system := `Reply with a JSON object {"present": true|false} and nothing else.`
	prompt := fmt.Sprintf("Question: %q\nPatient answer: %q\nDoes the answer confirm the symptom %q?", question, utterance, symptom)

	content, err := c.complete(ctx, system, prompt, true)
	if err != nil {
		return false, err
	}
	var out struct {
		Present interface{} `json:"present"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return false, fmt.Errorf("failed to parse answer: %w", err)
	}
	switch v := out.Present.(type) {
	case bool:
		return v, nil
	case string:
		// Models sometimes quote the boolean
		return strings.EqualFold(strings.TrimSpace(v), "true"), nil
	default:
		return false, fmt.Errorf("unexpected answer value: %v", out.Present)
	}
}

func (c *client) complete(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM API error: %s - %s", resp.Status, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", errors.New("LLM API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
