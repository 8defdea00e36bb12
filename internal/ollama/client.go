// Package ollama talks to a local Ollama server over its HTTP API: model
// discovery, single-shot classification requests, and pulling models.
package ollama

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

	"github.com/go-viper/mapstructure/v2"
	"github.com/mattn/go-shellwords"

	"github.com/codalotl/intentbench/internal/output"
	"github.com/codalotl/intentbench/internal/types"
)

const (
	DefaultBaseURL     = "http://localhost:11434"
	DefaultTimeout     = 60 * time.Second
	DefaultPingTimeout = 5 * time.Second
	DefaultPullCommand = "ollama pull {model}"
)

type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	PullCommand string
	HTTPClient  *http.Client
	Printer     *output.Printer
}

type Client struct {
	baseURL     string
	http        *http.Client
	maxRetries  int
	retryDelay  time.Duration
	pullCommand string
	printer     *output.Printer
}

func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	retries := opts.MaxRetries
	if retries < 1 {
		retries = 1
	}
	pull := opts.PullCommand
	if strings.TrimSpace(pull) == "" {
		pull = DefaultPullCommand
	}
	printer := opts.Printer
	if printer == nil {
		printer = output.NewPrinter(io.Discard)
	}
	return &Client{
		baseURL:     base,
		http:        hc,
		maxRetries:  retries,
		retryDelay:  opts.RetryDelay,
		pullCommand: pull,
		printer:     printer,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// InvocationError is a failed request to the model server.
type InvocationError struct {
	Model      string
	Op         string
	StatusCode int
	Err        error
}

func (e *InvocationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Model != "" {
		fmt.Fprintf(&b, " %s", e.Model)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Ping checks that the server answers within DefaultPingTimeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	_, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("could not reach Ollama at %s (is `ollama serve` running?): %w", c.baseURL, err)
	}
	return nil
}

// ListModels returns installed model names in the order the server lists them.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &InvocationError{Op: "list models", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &InvocationError{Op: "list models", StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &InvocationError{Op: "list models", Err: fmt.Errorf("decode response: %w", err)}
	}

	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// Classification is a model's answer to one query.
type Classification struct {
	Label      string
	Confidence float64
	Duration   time.Duration
	Raw        string
	// Unparsed is set when the reply was not a JSON object. Label is then
	// unknown and Confidence 0.
	Unparsed bool
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Classify sends one query to model with temperature 0 and JSON output. Only
// transport and server failures are errors; an unusable reply is reported
// through Classification.Unparsed.
func (c *Client) Classify(ctx context.Context, model, systemPrompt, query string) (Classification, error) {
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  systemPrompt + "\nUser: " + query,
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return Classification{}, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			output.Logger.Info("retrying classification", "model", model, "attempt", attempt+1, "err", lastErr)
			select {
			case <-ctx.Done():
				return Classification{}, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		start := time.Now()
		text, retryable, err := c.generate(ctx, model, body)
		elapsed := time.Since(start)
		if err == nil {
			cls := ParseReply(text)
			cls.Duration = elapsed
			return cls, nil
		}
		if ctx.Err() != nil {
			return Classification{}, ctx.Err()
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Classification{}, lastErr
}

func (c *Client) generate(ctx context.Context, model string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, &InvocationError{Model: model, Op: "classify", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, &InvocationError{Model: model, Op: "classify", Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode >= 500, &InvocationError{
			Model:      model,
			Op:         "classify",
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(data))),
		}
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", false, &InvocationError{Model: model, Op: "classify", Err: fmt.Errorf("invalid JSON envelope: %w", err)}
	}
	if gr.Error != "" {
		return "", false, &InvocationError{Model: model, Op: "classify", Err: errors.New(gr.Error)}
	}
	return strings.TrimSpace(gr.Response), false, nil
}

type reply struct {
	Intent     string  `mapstructure:"intent"`
	Confidence float64 `mapstructure:"confidence"`
}

// ParseReply decodes a model's JSON reply. Values are weakly typed so a
// quoted confidence ("0.9") is accepted. A missing intent becomes unknown;
// a missing confidence becomes 0.
func ParseReply(text string) Classification {
	cls := Classification{Raw: text, Label: types.UnknownLabel}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil || raw == nil {
		cls.Unparsed = true
		return cls
	}

	var r reply
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &r,
	})
	if err != nil {
		cls.Unparsed = true
		return cls
	}
	if err := dec.Decode(raw); err != nil {
		cls.Unparsed = true
		return cls
	}

	if label := strings.TrimSpace(r.Intent); label != "" {
		cls.Label = label
	}
	cls.Confidence = r.Confidence
	return cls
}

// Pull runs the configured pull command for model through the printer.
func (c *Client) Pull(ctx context.Context, model string) error {
	args, err := PullArgs(c.pullCommand, model)
	if err != nil {
		return err
	}
	if _, err := c.printer.RunCommandStreaming(ctx, "", args[0], args[1:]...); err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	return nil
}

// PullArgs expands {model} in command and splits it with shell word rules.
func PullArgs(command, model string) ([]string, error) {
	args, err := shellwords.Parse(strings.ReplaceAll(command, "{model}", model))
	if err != nil {
		return nil, fmt.Errorf("parse pull command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("pull command is empty")
	}
	return args, nil
}
