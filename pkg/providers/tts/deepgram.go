// Package tts implements streaming text-to-speech providers.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gautambitious/jin-ai/pkg/orchestrator"
)

// readSize is how much provider audio we pull per read before handing it
// downstream.
const readSize = 4096

// DeepgramTTS speaks the Deepgram speak REST API, streaming raw PCM out of
// the response body as it arrives.
type DeepgramTTS struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

func NewDeepgramTTS(apiKey, model string) *DeepgramTTS {
	if model == "" {
		model = "aura-asteria-en"
	}
	return &DeepgramTTS{
		apiKey: apiKey,
		url:    "https://api.deepgram.com/v1/speak",
		model:  model,
		client: http.DefaultClient,
	}
}

func (d *DeepgramTTS) Name() string {
	return "deepgram-tts"
}

// Model reports the configured voice model, used to key the welcome cache.
func (d *DeepgramTTS) Model() string {
	return d.model
}

func (d *DeepgramTTS) StreamSynthesize(ctx context.Context, text string, cfg orchestrator.TTSConfig, onChunk func([]byte) error) error {
	u, err := url.Parse(d.url)
	if err != nil {
		return err
	}

	model := cfg.Model
	if model == "" {
		model = d.model
	}

	params := u.Query()
	params.Set("model", model)
	params.Set("encoding", cfg.Encoding)
	params.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	params.Set("container", "none")
	u.RawQuery = params.Encode()

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram speak request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("deepgram speak error (status %d): %s", resp.StatusCode, string(respBody))
	}

	buf := make([]byte, readSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if cerr := onChunk(chunk); cerr != nil {
				return cerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("deepgram speak read failed: %w", err)
		}
	}
}
