/*
PURPOSE:
  Sends a single synthetic completion request to an inference server and
  reports its timing and a truncated view of the response.

REQUIREMENTS:
  User-specified:
  - Prompt is N words sampled uniformly, with replacement, from a fixed list.
  - One non-streaming request, request-level timeout, no retry.
  - Report start/end time where start = end minus header latency.
  - Distinguish connection refused, timeout and everything else.

  Implementation-discovered:
  - Header latency is measured with httptrace (first byte of the response),
    not with wall time around the whole call.
  - Response keys are printed in server order, so the body is decoded into
    model.Fields instead of a Go map.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (probe command)
  - Uses: internal/model, internal/output
  - Independent of the sweep engine.

ERROR HANDLING:
  - Network errors are classified into ErrorKind and returned as *RequestError.
  - Non-200 responses are reported, not returned as errors.

IMPLEMENTATION RULES:
  - Use net/http with a cloned default transport.
  - Enforce the client timeout.

USAGE:
  p := probe.New(endpoint, model, os.Stdout)
  report, err := p.Send(ctx, probe.GeneratePrompt(rng, 12000), 64)

SELF-HEALING INSTRUCTIONS:
  - If the server moves to the chat API, change the payload and the choice
    text path in truncateChoice.

RELATED FILES:
  - internal/probe/burst.go
  - internal/cli/probe.go

MAINTENANCE:
  - Keep SampleWords stable; prompt token counts depend on it.
*/

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/daryltucker/bench-sweep/internal/model"
	"github.com/daryltucker/bench-sweep/internal/output"
)

// DefaultTimeout bounds one request from dial to the last body byte.
const DefaultTimeout = 300 * time.Second

const (
	choicePreviewLen = 80
	rawPreviewLen    = 200
	rule             = "=================================================="
)

// SampleWords is the vocabulary prompts are drawn from.
var SampleWords = []string{
	"the", "be", "to", "of", "and", "a", "in", "that", "have", "I", "it", "for",
	"not", "on", "with", "he", "as", "you", "do", "at", "this", "but", "his",
	"by", "from", "they", "we", "say", "her", "she", "or", "an", "will", "my",
	"one", "all", "would", "there", "their", "what", "so", "up", "out", "if",
	"about", "who", "get", "which", "go", "me", "when", "make", "can", "like",
	"time", "no", "just", "him", "know", "take", "person", "into", "year",
	"your", "good", "some", "could", "them", "see", "other", "than", "then",
	"now", "look", "only", "come", "its", "over", "think", "also", "back",
	"after", "use", "two", "how", "our", "work", "first", "well", "way",
	"even", "new", "want", "because", "any", "these", "give", "day", "most", "us",
}

// GeneratePrompt joins n words drawn from SampleWords.
func GeneratePrompt(rng *rand.Rand, n int) string {
	if n <= 0 {
		return ""
	}
	words := make([]string, n)
	for i := range words {
		words[i] = SampleWords[rng.Intn(len(SampleWords))]
	}
	return strings.Join(words, " ")
}

// ErrorKind classifies a failed request.
type ErrorKind string

const (
	KindConnectionRefused ErrorKind = "connection_refused"
	KindTimeout           ErrorKind = "timeout"
	KindOther             ErrorKind = "other"
)

// Classify maps a transport error to its ErrorKind.
func Classify(err error) ErrorKind {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindOther
}

// RequestError is returned when the request never produced a response.
type RequestError struct {
	Kind ErrorKind
	At   time.Time
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Report is the outcome of one request that got a response.
type Report struct {
	Start      time.Time
	End        time.Time
	Latency    time.Duration
	StatusCode int
	Body       []byte
}

// Prober sends completion requests to one endpoint.
type Prober struct {
	Endpoint string
	Model    string
	Client   *http.Client
	Out      io.Writer
}

// New creates a Prober with its own transport and DefaultTimeout.
func New(endpoint, modelName string, out io.Writer) *Prober {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Prober{
		Endpoint: endpoint,
		Model:    modelName,
		Client: &http.Client{
			Transport: transport,
			Timeout:   DefaultTimeout,
		},
		Out: out,
	}
}

// Send issues one request and prints the report to p.Out.
func (p *Prober) Send(ctx context.Context, prompt string, maxTokens int) (*Report, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":      p.Model,
		"max_tokens": maxTokens,
		"prompt":     prompt,
		"stream":     false,
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(p.Out, rule)
	fmt.Fprintf(p.Out, "Preparing request at: %s\n", time.Now().Format(time.RFC3339Nano))
	fmt.Fprintf(p.Out, "Target Endpoint: %s\n", p.Endpoint)
	fmt.Fprintf(p.Out, "Model: %s, Prompt Words: %d, Max Tokens: %d\n", p.Model, len(strings.Fields(prompt)), maxTokens)
	fmt.Fprintln(p.Out, rule)

	// Trace hooks fire on transport goroutines.
	var (
		mu              sync.Mutex
		sent, firstByte time.Time
	)
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			output.Logger.Debug("Network: Connected", "remote", info.Conn.RemoteAddr(), "reused", info.Reused)
		},
		WroteHeaders: func() {
			mu.Lock()
			sent = time.Now()
			mu.Unlock()
		},
		GotFirstResponseByte: func() {
			mu.Lock()
			firstByte = time.Now()
			mu.Unlock()
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, p.fail(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.fail(err)
	}
	end := time.Now()

	mu.Lock()
	if sent.IsZero() {
		sent = began
	}
	if firstByte.IsZero() {
		firstByte = end
	}
	latency := firstByte.Sub(sent)
	mu.Unlock()

	report := &Report{
		Start:      end.Add(-latency),
		End:        end,
		Latency:    latency,
		StatusCode: resp.StatusCode,
		Body:       data,
	}
	p.print(report)
	return report, nil
}

func (p *Prober) print(r *Report) {
	fmt.Fprintln(p.Out)
	fmt.Fprintln(p.Out, rule)
	fmt.Fprintf(p.Out, "Request Start: %s\n", r.Start.Format(time.RFC3339Nano))
	fmt.Fprintf(p.Out, "Request End:   %s\n", r.End.Format(time.RFC3339Nano))
	fmt.Fprintf(p.Out, "Header Latency: %.6f seconds\n", r.Latency.Seconds())
	fmt.Fprintln(p.Out, rule)

	if r.StatusCode != http.StatusOK {
		fmt.Fprintf(p.Out, "\nError: Received Status Code %d\n", r.StatusCode)
		fmt.Fprintln(p.Out, "Response Text:")
		fmt.Fprintln(p.Out, string(r.Body))
		return
	}

	fmt.Fprintln(p.Out, "\nResponse JSON (truncated):")
	pretty, err := Truncate(r.Body)
	if err != nil {
		fmt.Fprintln(p.Out, "Could not decode JSON response. Raw text:")
		fmt.Fprintln(p.Out, preview(string(r.Body), rawPreviewLen)+"...")
		return
	}
	fmt.Fprintln(p.Out, pretty)
}

func (p *Prober) fail(err error) error {
	rerr := &RequestError{Kind: Classify(err), At: time.Now(), Err: err}
	switch rerr.Kind {
	case KindConnectionRefused:
		fmt.Fprintf(p.Out, "\nRequest Failed: Connection Error. Is the server running at %s?\n", p.Endpoint)
	case KindTimeout:
		fmt.Fprintln(p.Out, "\nRequest Failed: Read Timeout.")
	default:
		fmt.Fprintf(p.Out, "\nAn unexpected error occurred at %s\n", rerr.At.Format(time.RFC3339Nano))
	}
	fmt.Fprintf(p.Out, "Error details: %v\n", err)
	return rerr
}

// Truncate shortens the first choice's text and returns the body as
// indented JSON in the server's key order.
func Truncate(body []byte) (string, error) {
	resp := model.NewFields()
	if err := json.Unmarshal(body, resp); err != nil {
		return "", err
	}
	truncateChoice(resp)

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func truncateChoice(resp *model.Fields) {
	v, ok := resp.Get("choices")
	if !ok {
		return
	}
	choices, ok := v.([]interface{})
	if !ok || len(choices) == 0 {
		return
	}
	first, ok := choices[0].(map[string]interface{})
	if !ok {
		return
	}
	if text, ok := first["text"].(string); ok {
		first["text"] = preview(text, choicePreviewLen) + "..."
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
