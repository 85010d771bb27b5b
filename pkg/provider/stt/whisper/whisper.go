// Package whisper provides an stt.Transcriber backed by a running
// whisper-server binary, which exposes a REST API at POST /inference taking
// a multipart WAV upload and returning {"text": "..."}.
//
// Float32 samples are converted to 16-bit signed little-endian PCM and
// wrapped in a minimal WAV header before upload.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	text, err := p.Transcribe(ctx, samples, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// bitsPerSample is fixed at 16 for the PCM encoding whisper expects.
	bitsPerSample = 16
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLanguage sets the language code sent to the server (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithTimeout sets the per-request timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// Client talks to a whisper-server instance.
type Client struct {
	baseURL  string
	language string
	timeout  time.Duration
	client   *http.Client
}

// New creates a Client for the whisper-server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("whisper: baseURL must not be empty")
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		timeout:  defaultTimeout,
		client:   &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// inferenceResponse is the whisper-server reply shape.
type inferenceResponse struct {
	Text string `json:"text"`
}

// Transcribe implements stt.Transcriber.
func (c *Client) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if sampleRate <= 0 {
		return "", fmt.Errorf("whisper: invalid sample rate %d", sampleRate)
	}

	wav := encodeWAV(samples, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: build multipart: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write multipart: %w", err)
	}
	if err := mw.WriteField("language", c.language); err != nil {
		return "", fmt.Errorf("whisper: write language field: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: finish multipart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whisper: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("whisper: parse response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

// encodeWAV converts float32 samples to a 16-bit mono PCM WAV file.
func encodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * (bitsPerSample / 8)
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	// RIFF header.
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt chunk: PCM, mono.
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*(bitsPerSample/8)))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample/8))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	// data chunk.
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range samples {
		clamped := math.Max(-1, math.Min(1, float64(s)))
		binary.Write(buf, binary.LittleEndian, int16(clamped*math.MaxInt16))
	}
	return buf.Bytes()
}
