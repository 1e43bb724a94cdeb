package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zqq-nuli/felay/internal/sse"
)

// Emit receives one assembled message per completed AI turn.
type Emit func(msg sse.AssembledMessage, isSuggestion bool)

// Proxy is the loopback interceptor for one wrapped tool process.
type Proxy struct {
	upstream *url.URL
	provider string
	emit     Emit
	log      *slog.Logger
	client   *http.Client

	srv *http.Server
	ln  net.Listener
}

// New builds a proxy forwarding to the given upstream origin. provider picks
// the assembler ("anthropic" or "openai").
func New(upstreamOrigin, provider string, emit Emit, log *slog.Logger) (*Proxy, error) {
	u, err := url.Parse(upstreamOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse upstream origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream origin %q lacks scheme or host", upstreamOrigin)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{
		upstream: u,
		provider: provider,
		emit:     emit,
		log:      log,
		client: &http.Client{
			// Streams run for the length of an AI turn; no overall timeout.
			Transport: http.DefaultTransport,
		},
	}, nil
}

// Start listens on an ephemeral loopback port and serves until Close.
// Returns the proxy origin to redirect the tool at.
func (p *Proxy) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen loopback: %w", err)
	}
	p.ln = ln
	p.srv = &http.Server{Handler: p}
	go func() {
		if err := p.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.log.Error("proxy server stopped", "error", err)
		}
	}()
	return "http://" + ln.Addr().String(), nil
}

// Close shuts the listener down.
func (p *Proxy) Close() error {
	if p.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.srv.Shutdown(ctx)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "proxy: read request body: "+err.Error(), http.StatusBadGateway)
		return
	}
	isSuggestion := bytes.Contains(body, []byte(SuggestionToken))

	out := *r.URL
	out.Scheme = p.upstream.Scheme
	out.Host = p.upstream.Host

	req, err := http.NewRequestWithContext(r.Context(), r.Method, out.String(), bytes.NewReader(body))
	if err != nil {
		http.Error(w, "proxy: build upstream request: "+err.Error(), http.StatusBadGateway)
		return
	}
	req.Header = r.Header.Clone()
	req.Host = p.upstream.Host

	resp, err := p.client.Do(req)
	if err != nil {
		http.Error(w, "proxy: upstream request failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if isEventStream(resp) {
		p.teeStream(w, resp.Body, isSuggestion)
		return
	}
	io.Copy(w, resp.Body)
}

func isEventStream(resp *http.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

// teeStream forwards the upstream body byte-for-byte while feeding it into a
// fresh assembler. A broken stream still emits whatever was accumulated.
func (p *Proxy) teeStream(w http.ResponseWriter, body io.Reader, isSuggestion bool) {
	asm := p.newAssembler()
	var framer sse.Framer
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := w.Write(chunk); werr == nil && flusher != nil {
				flusher.Flush()
			}
			for _, ev := range framer.Feed(string(chunk)) {
				if msg, done := asm.Process(ev); done {
					p.emit(msg, isSuggestion)
				}
			}
		}
		if err != nil {
			for _, ev := range framer.Flush() {
				if msg, done := asm.Process(ev); done {
					p.emit(msg, isSuggestion)
				}
			}
			if msg, ok := asm.Finalize(); ok {
				p.emit(msg, isSuggestion)
				if err != io.EOF {
					p.log.Warn("upstream stream broke, partial turn emitted", "error", err)
				}
			}
			return
		}
	}
}

func (p *Proxy) newAssembler() sse.Assembler {
	if p.provider == "openai" {
		return sse.NewOpenAIAssembler()
	}
	return sse.NewAnthropicAssembler()
}
