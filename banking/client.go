package banking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DownstreamError wraps a failed call to the banking collaborator. Nodes
// record it in state rather than failing the turn: the engine succeeded,
// the bank did not.
type DownstreamError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *DownstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("downstream %s failed: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("downstream %s failed: %v", e.Operation, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// BankClient talks to the downstream banking collaborator. Safe for
// concurrent use.
type BankClient struct {
	baseURL string
	httpc   *http.Client
}

// NewBankClient creates a client for the collaborator at baseURL. A URL
// without a scheme gets https:// prefixed (hosting platforms hand out bare
// host:port values). timeout bounds every call; zero means 60 s.
func NewBankClient(baseURL string, timeout time.Duration) *BankClient {
	if baseURL != "" && !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BankClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Balance fetches the account balance payload.
func (c *BankClient) Balance(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "balance", "/api/balance", accountID)
}

// Transfer executes a transfer and returns the collaborator's result
// payload.
func (c *BankClient) Transfer(ctx context.Context, req TransferRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &DownstreamError{Operation: "transfer", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transfer", bytes.NewReader(body))
	if err != nil {
		return nil, &DownstreamError{Operation: "transfer", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, &DownstreamError{Operation: "transfer", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownstreamError{Operation: "transfer", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownstreamError{Operation: "transfer", StatusCode: resp.StatusCode}
	}
	return payload, nil
}

// Statement fetches the account statement text.
func (c *BankClient) Statement(ctx context.Context, accountID string) (string, error) {
	return c.getText(ctx, "statement", "/api/statement", accountID)
}

// Loan fetches the loan information text.
func (c *BankClient) Loan(ctx context.Context, accountID string) (string, error) {
	return c.getText(ctx, "loan", "/api/loan", accountID)
}

func (c *BankClient) get(ctx context.Context, op, path, accountID string) ([]byte, error) {
	u := c.baseURL + path + "?" + url.Values{"accountId": {accountID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &DownstreamError{Operation: op, Err: err}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &DownstreamError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownstreamError{Operation: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownstreamError{Operation: op, StatusCode: resp.StatusCode}
	}
	return payload, nil
}

func (c *BankClient) getJSON(ctx context.Context, op, path, accountID string) (json.RawMessage, error) {
	payload, err := c.get(ctx, op, path, accountID)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *BankClient) getText(ctx context.Context, op, path, accountID string) (string, error) {
	payload, err := c.get(ctx, op, path, accountID)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
