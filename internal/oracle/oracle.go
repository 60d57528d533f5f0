// Package oracle implements the §6.4 external contract execution oracle
// client used by C9: POST {base}?act=compile|cmdrun, tagged with a
// google/uuid request id, classifying response errors into the three
// bands §4.8 assigns to the contract worker.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrorBand classifies an oracle error response by its code range (§4.8).
type ErrorBand int

const (
	// BandUnknown is returned for a code outside the three defined bands.
	BandUnknown ErrorBand = iota
	// BandUser (1000-1999) is fatal for the node: the producer sent a tx
	// the oracle rejects at protocol level, indicating a data/oracle
	// mismatch.
	BandUser
	// BandScript (2000-2999) is recorded on the tx status; ingestion
	// continues.
	BandScript
	// BandServer (3000-3999) is recorded on the tx status; ingestion
	// continues.
	BandServer
)

// ClassifyCode maps an oracle error code to its band (§4.8 step 3).
func ClassifyCode(code int) ErrorBand {
	switch {
	case code >= 1000 && code <= 1999:
		return BandUser
	case code >= 2000 && code <= 2999:
		return BandScript
	case code >= 3000 && code <= 3999:
		return BandServer
	default:
		return BandUnknown
	}
}

// ResponseError wraps a §6.4 `{error: {code, message}}` response.
type ResponseError struct {
	Code    int
	Message string
	Band    ErrorBand
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("oracle: error %d (%s): %s", e.Code, bandName(e.Band), e.Message)
}

func bandName(b ErrorBand) string {
	switch b {
	case BandUser:
		return "user"
	case BandScript:
		return "script"
	case BandServer:
		return "server"
	default:
		return "unknown"
	}
}

// Result is the decoded success payload of a compile/cmdrun call.
type Result struct {
	State         string `json:"state"`
	Address       string `json:"address"`
	ContractDump  json.RawMessage `json:"contractdump,omitempty"`
}

// Params is the §6.4 request body's "params" object.
type Params struct {
	Transaction string `json:"transaction"`
	Sign        string `json:"sign"`
	PubKey      string `json:"pubkey"`
	Address     string `json:"address"`
	State       string `json:"state"`
	IsDetails   bool   `json:"isDetails"`
}

type request struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
}

type response struct {
	Result *Result        `json:"result"`
	Error  *ResponseError `json:"error"`
}

// Client talks to the external contract execution oracle over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds an oracle Client. timeout bounds each request.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// Compile invokes `POST ?act=compile` (§4.8 step 2, kind == compile).
func (c *Client) Compile(ctx context.Context, p Params) (*Result, error) {
	return c.call(ctx, "compile", "compile", p)
}

// Run invokes `POST ?act=cmdrun` for a run/pay-kind script tx (§4.8 step
// 2, kind == run | pay).
func (c *Client) Run(ctx context.Context, p Params) (*Result, error) {
	return c.call(ctx, "cmdrun", "run", p)
}

func (c *Client) call(ctx context.Context, act, method string, p Params) (*Result, error) {
	req := request{
		ID:      uuid.NewString(),
		Version: "1.0.0",
		Method:  method,
		Params:  p,
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: marshal request: %w", err)
	}
	url := fmt.Sprintf("%s?act=%s", c.baseURL, act)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle: request: %w", err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("oracle: decode response: %w", err)
	}
	if out.Error != nil {
		out.Error.Band = ClassifyCode(out.Error.Code)
		return nil, out.Error
	}
	if out.Result == nil {
		return nil, fmt.Errorf("oracle: empty response")
	}
	return out.Result, nil
}

// HealthCheck issues a lightweight request to confirm the oracle is
// reachable, used as a fatal-init check (§7 "failed oracle health-check:
// abort before ingestion").
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("oracle: health check: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
