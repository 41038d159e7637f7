package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Local Whisper service
const defaultSTTURL = "http://stt:8000/transcribe"

// ErrNoSpeech is returned when the recording transcribes to nothing.
var ErrNoSpeech = errors.New("no speech recognized")

type STTClient interface {
	Transcribe(ctx context.Context, audioData []byte) (string, error)
}

type WhisperClient struct {
	url        string
	language   string
	httpClient *http.Client
}

func NewWhisperClient(url string) *WhisperClient {
	if url == "" {
		url = defaultSTTURL
	}
	return &WhisperClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// WithLanguage pins the recognition language (ISO 639-1) instead of letting
// the service detect it.
func (c *WhisperClient) WithLanguage(lang string) *WhisperClient {
	c.language = strings.ToLower(strings.TrimSpace(lang))
	return c
}

type sttResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (c *WhisperClient) Transcribe(ctx context.Context, audioData []byte) (string, error) {
	if len(audioData) == 0 {
		return "", ErrNoSpeech
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if c.language != "" {
		if err := writer.WriteField("language", c.language); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("file", audioFileName(audioData))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audioData); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("STT API error: %s - %s", resp.Status, string(respBody))
	}

	var result sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode STT response: %w", err)
	}
	if c.language != "" && result.Language != "" && !strings.EqualFold(result.Language, c.language) {
		log.Printf("STT answered in %q, expected %q", result.Language, c.language)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// audioFileName names the upload after the container the bytes start with,
// since the service picks its decoder from the extension.
func audioFileName(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio.ogg"
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "audio.webm"
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio.mp3"
	default:
		return "audio.wav"
	}
}
