// Package sandbox provides the wire contract to the external sandbox
// collaborator that actually owns the filesystem, process execution, and
// account balance the safety core reasons about but never implements
// itself. Per spec.md §1, sandbox command execution is explicitly
// out-of-scope: this package only translates Core Tool payloads to and from
// the sandbox's HTTP API, it runs nothing locally.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sentrycore/sentinel/internal/scheduler"
)

// idempotencyNamespace seeds IdempotencyKey's UUIDv5 derivation. It is a
// fixed, arbitrary value: what matters is that every process derives the
// same key for the same request body, not that the namespace itself is
// meaningful.
var idempotencyNamespace = uuid.MustParse("d53a1f92-8b1c-4c34-9e21-1c0c1b0f0a01")

// IdempotencyKey derives a stable key from a mutating request's encoded
// body. Because the derivation is a pure function of the body, retrying the
// same logical call (same path, same body) reproduces the same key, letting
// the collaborator recognize and collapse a retried POST instead of
// double-applying it. Two different calls that happen to share a body are
// expected to collide by design — that's the same request.
func IdempotencyKey(body []byte) string {
	return uuid.NewSHA1(idempotencyNamespace, body).String()
}

// HTTPDoer captures the subset of *http.Client the adapter uses, so tests
// can substitute a stub transport without a live sandbox.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ExecResult is the outcome of a command run inside the sandbox.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Client talks to the sandbox collaborator over HTTP. It implements
// scheduler.BalanceSource directly so the Durable Scheduler can use it as
// its balance fetch source without an adapter shim.
type Client struct {
	http    HTTPDoer
	baseURL string
}

// New constructs a sandbox Client. baseURL is the sandbox's HTTP endpoint,
// e.g. "http://localhost:8787".
func New(http HTTPDoer, baseURL string) *Client {
	return &Client{http: http, baseURL: baseURL}
}

// FetchBalance implements scheduler.BalanceSource by querying the sandbox's
// account endpoint.
func (c *Client) FetchBalance(ctx context.Context) (scheduler.Balance, error) {
	var out struct {
		CreditCents int64 `json:"credit_cents"`
		USDCCents   int64 `json:"usdc_cents"`
	}
	if err := c.get(ctx, "/v1/account/balance", &out); err != nil {
		return scheduler.Balance{}, fmt.Errorf("sandbox: fetch balance: %w", err)
	}
	return scheduler.Balance{CreditCents: out.CreditCents, USDCCents: out.USDCCents}, nil
}

// ReadFile reads a file from the sandbox's filesystem, backing the
// read_file Core Tool.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.get(ctx, "/v1/fs/read?path="+encodePath(path), &out); err != nil {
		return "", fmt.Errorf("sandbox: read file: %w", err)
	}
	return out.Content, nil
}

// WriteFile writes a file to the sandbox's filesystem, backing the
// write_file and edit_own_file Core Tools.
func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	body := struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}{Path: path, Content: content}
	if err := c.post(ctx, "/v1/fs/write", body, nil); err != nil {
		return fmt.Errorf("sandbox: write file: %w", err)
	}
	return nil
}

// Exec runs command inside the sandbox, backing the exec Core Tool.
func (c *Client) Exec(ctx context.Context, command string, args []string, timeout time.Duration) (ExecResult, error) {
	body := struct {
		Command    string   `json:"command"`
		Args       []string `json:"args"`
		TimeoutSec int      `json:"timeout_seconds"`
	}{Command: command, Args: args, TimeoutSec: int(timeout / time.Second)}
	var out ExecResult
	if err := c.post(ctx, "/v1/exec", body, &out); err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: exec: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(encoded))
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New("sandbox: decode response: " + err.Error())
	}
	return nil
}

func encodePath(path string) string {
	var buf bytes.Buffer
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '/' || r == '.' || r == '-' || r == '_':
			buf.WriteRune(r)
		default:
			fmt.Fprintf(&buf, "%%%02X", r)
		}
	}
	return buf.String()
}
