package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama streams from a local Ollama server's /api/chat endpoint, which
// answers with newline-delimited JSON objects.
type Ollama struct {
	Host   string
	Model  string
	Client *http.Client
}

// OllamaHeaderTimeout bounds the wait for response headers. Cold model loads
// happen before the first byte, so it is generous.
const OllamaHeaderTimeout = 2 * time.Minute

// NewOllama returns an Ollama source for host (e.g. http://localhost:11434).
func NewOllama(host, model string) *Ollama {
	if host == "" {
		host = "http://localhost:11434"
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = OllamaHeaderTimeout
	return &Ollama{
		Host:  strings.TrimRight(host, "/"),
		Model: model,
		// no overall timeout: streams are long-lived and bounded by ctx
		Client: &http.Client{Transport: tr},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"`
}

// Stream implements Source.
func (o *Ollama) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if len(req.History) == 0 {
		return nil, ErrEmptyHistory
	}
	model := req.Model
	if model == "" {
		model = o.Model
	}

	body := ollamaChatRequest{Model: model, Stream: true}
	for i, m := range req.History {
		content := m.Content
		// attachments are referenced inline on the prompting message
		if i == len(req.History)-1 && len(req.Attachments) > 0 {
			for _, a := range req.Attachments {
				content += "\n[attachment: " + a.URL + "]"
			}
		}
		body.Messages = append(body.Messages, ollamaMessage{Role: m.Role, Content: content})
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Host+"/api/chat", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// the request is sent from the stream goroutine so a server that never
	// answers cannot block the caller
	out := make(chan Event)
	go func() {
		defer close(out)

		m := newMeter()
		resp, err := o.Client.Do(httpReq)
		if err != nil {
			if ctx.Err() == nil {
				emit(ctx, out, Fail(fmt.Errorf("ollama: %w", err)))
			}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			var e struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
			if e.Error == "" {
				e.Error = resp.Status
			}
			emit(ctx, out, Fail(fmt.Errorf("ollama: %s", e.Error)))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var c ollamaChunk
			if err := json.Unmarshal(line, &c); err != nil {
				emit(ctx, out, Fail(fmt.Errorf("ollama: bad stream line: %w", err)))
				return
			}
			if c.Error != "" {
				emit(ctx, out, Fail(fmt.Errorf("ollama: %s", c.Error)))
				return
			}
			if c.Message.Content != "" {
				m.chunk()
				if !emit(ctx, out, Chunk(c.Message.Content)) {
					return
				}
			}
			if c.Done {
				st := m.stats(c.PromptEvalCount, c.EvalCount)
				if c.EvalDuration > 0 {
					st.TokensPerSecond = float64(c.EvalCount) / (float64(c.EvalDuration) / float64(time.Second))
				}
				emit(ctx, out, Done(Result{Stats: st}))
				return
			}
		}
		err = sc.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		if ctx.Err() != nil {
			return
		}
		emit(ctx, out, Fail(fmt.Errorf("ollama: stream ended: %w", err)))
	}()
	return out, nil
}

var _ Source = (*Ollama)(nil)
