// Package peer talks to a local model runtime (Ollama-compatible) for
// note structuring. The client refuses any non-loopback endpoint, and
// prompts and responses are never logged: they carry session content
// that must not leave the process except to the loopback peer itself.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the conventional local Ollama endpoint.
const DefaultBaseURL = "http://127.0.0.1:11434"

// DefaultTimeout bounds a single generation call. Local models on
// modest hardware can legitimately take a while.
const DefaultTimeout = 120 * time.Second

var (
	ErrNotLoopback     = errors.New("peer: endpoint must be loopback (127.0.0.1 or localhost)")
	ErrNotAvailable    = errors.New("peer: model runtime not reachable")
	ErrInvalidResponse = errors.New("peer: invalid response from model runtime")
	ErrEmptyInput      = errors.New("peer: nothing to structure")
)

// NoteType selects the structuring template.
type NoteType string

const (
	NoteProgress NoteType = "progress"
	NoteIntake   NoteType = "intake"
	NoteCrisis   NoteType = "crisis"
)

// Client is a loopback-only generation client.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// New validates the endpoint and returns a client. Any host other
// than localhost or a loopback IP is rejected outright.
func New(baseURL, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if err := validateLoopback(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// validateLoopback rejects any URL that would leave the machine.
func validateLoopback(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("peer: invalid endpoint URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrNotLoopback, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: no host", ErrNotLoopback)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("%w: got %q", ErrNotLoopback, host)
}

// Available reports whether the runtime answers on /api/tags.
func (c *Client) Available(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("peer: failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrNotAvailable, resp.StatusCode)
	}
	return nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Structure renders a raw session note into the template for the
// given note type. The content travels only to the loopback peer.
func (c *Client) Structure(ctx context.Context, content string, noteType NoteType) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyInput
	}
	return c.generate(ctx, buildStructuringPrompt(content, noteType))
}

// generate performs one non-streaming completion.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.3,
			TopP:        0.9,
			NumPredict:  2048,
		},
	})
	if err != nil {
		return "", fmt.Errorf("peer: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("peer: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The error string from the transport never includes the
		// request body.
		return "", fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return out.Response, nil
}

// sectionTemplates are the output skeletons per note type.
var sectionTemplates = map[NoteType]struct {
	name     string
	sections string
}{
	NoteProgress: {"SOAP", `
**SUBJECTIVE:**
[Client's reported symptoms, concerns, progress since last session. Use quotes when possible.]

**OBJECTIVE:**
[Clinician observations, behaviors noted during session]

**ASSESSMENT:**
[Clinical assessment as documented; any safety concerns. Write "Not assessed" for items not mentioned.]

**PLAN:**
[Next steps]`},
	NoteIntake: {"Intake Assessment", `
**PRESENTING PROBLEM:**
[Reason for seeking services, in the client's words where possible]

**HISTORY:**
[Relevant history explicitly stated in the note]

**RISK SCREEN:**
[Only what was explicitly assessed; otherwise "Not assessed"]

**INITIAL PLAN:**
[Next steps]`},
	NoteCrisis: {"Crisis Documentation", `
**PRESENTATION:**
[Nature of the crisis as documented]

**RISK ASSESSMENT:**
[Ideation, plan, intent, means, protective factors. "Denied" only if explicitly stated; otherwise "Not assessed"]

**INTERVENTIONS:**
[Actions taken during the contact]

**DISPOSITION:**
[Outcome and follow-up plan]`},
}

// buildStructuringPrompt builds the template-constrained prompt. The
// rules forbid the model from inventing content the clinician did not
// write.
func buildStructuringPrompt(content string, noteType NoteType) string {
	tmpl, ok := sectionTemplates[noteType]
	if !ok {
		tmpl = sectionTemplates[NoteProgress]
	}
	return fmt.Sprintf(`You are a clinical documentation assistant. Structure the following session note into %s format.

RULES:
1. PRESERVE the clinician's original language - do not sanitize or soften clinical observations
2. ONLY extract information explicitly stated in the note
3. If information is missing for a section, write "Not documented"
4. Do NOT add clinical interpretations or diagnoses not present in the original
5. Maintain clinical terminology as written
6. Use the exact section headers provided below

SESSION NOTE:
%s

Format the note using these sections:
%s

STRUCTURED OUTPUT:
`, tmpl.name, content, tmpl.sections)
}
