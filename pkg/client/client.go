package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// ErrNoCredentials is returned by calls that must be signed when the client
// was built without WithCredentials.
var ErrNoCredentials = errors.New("client has no signing credentials")

// Proof is a signed summary of one asset version.
type Proof = asset.Proof

// ExecutionResult is the outcome of a committed contract execution.
type ExecutionResult struct {
	ContractResult string   `json:"contract_result,omitempty"`
	FunctionResult string   `json:"function_result,omitempty"`
	Proofs         []*Proof `json:"proofs,omitempty"`
}

// ValidationResult is the outcome of replaying one asset's history.
type ValidationResult struct {
	AssetID string      `json:"asset_id"`
	Code    status.Code `json:"status_code"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Age     uint32      `json:"age"`
	Proof   *Proof      `json:"proof,omitempty"`
}

// OK reports whether the history validated.
func (r *ValidationResult) OK() bool { return r.Code == status.OK }

// ContractSummary is one entry of ListContracts.
type ContractSummary struct {
	ContractID string `json:"contract_id"`
	BinaryName string `json:"binary_name"`
	EntityID   string `json:"entity_id"`
	KeyVersion uint32 `json:"key_version"`
}

// Client talks to one ledger server.
type Client struct {
	base       string
	httpClient *http.Client
	creds      *Credentials
	auditor    request.Signer
	retries    int
	backoff    time.Duration
	nonce      func() string

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCredentials signs ledger requests with creds.
func WithCredentials(creds *Credentials) Option {
	return func(c *Client) error {
		if creds == nil || creds.Signer == nil {
			return errors.New("credentials need a signer")
		}
		c.creds = creds
		return nil
	}
}

// WithAuditorSigner adds an auditor signature to every execution, for
// ledgers that run in auditor mode.
func WithAuditorSigner(s request.Signer) Option {
	return func(c *Client) error {
		c.auditor = s
		return nil
	}
}

// WithBearerToken attaches an operator token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithRetries retries executions that fail with a retryable status up to n
// more times, waiting backoff, then twice that, and so on.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("retries must not be negative, got %d", n)
		}
		c.retries, c.backoff = n, backoff
		return nil
	}
}

// New creates a Client for the ledger server at base.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithCredentials(creds),
//	    client.WithRetries(3, 50*time.Millisecond),
//	)
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		nonce:      func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Identity returns the identity requests are signed as.
func (c *Client) Identity() (request.Identity, bool) {
	if c.creds == nil {
		return request.Identity{}, false
	}
	return c.creds.Identity, true
}

// Login exchanges the admin secret for an operator token and keeps it for
// subsequent calls.
func (c *Client) Login(ctx context.Context, subject, secret string) (string, error) {
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	body := map[string]string{"subject": subject, "secret": secret}
	if err := c.post(ctx, "/api/v1/auth/login", body, &resp); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// RegisterCertificate registers certPEM under id.
func (c *Client) RegisterCertificate(ctx context.Context, id request.Identity, certPEM string) error {
	return c.post(ctx, "/api/v1/certificates", request.CertificateRegistration{Identity: id, CertPEM: certPEM}, nil)
}

// RegisterSecret registers an HMAC secret under id.
func (c *Client) RegisterSecret(ctx context.Context, id request.Identity, secret string) error {
	return c.post(ctx, "/api/v1/secrets", request.SecretRegistration{Identity: id, Secret: secret}, nil)
}

// RegisterContract registers a contract owned by the client's identity.
func (c *Client) RegisterContract(ctx context.Context, contractID, binaryName string, payload []byte, properties string) error {
	if c.creds == nil {
		return ErrNoCredentials
	}
	req := &request.ContractRegistration{
		Identity:   c.creds.Identity,
		ContractID: contractID,
		BinaryName: binaryName,
		Payload:    payload,
		Properties: properties,
	}
	if err := req.Sign(c.creds.Signer); err != nil {
		return err
	}
	return c.post(ctx, "/api/v1/contracts", req, nil)
}

// RegisterFunction registers a function. Functions are not signed; the
// route is protected by the operator token when the server has one.
func (c *Client) RegisterFunction(ctx context.Context, functionID, binaryName string, payload []byte) error {
	req := request.FunctionRegistration{FunctionID: functionID, BinaryName: binaryName, Payload: payload}
	return c.post(ctx, "/api/v1/functions", req, nil)
}

// ListContracts lists every registered contract.
func (c *Client) ListContracts(ctx context.Context) ([]ContractSummary, error) {
	var resp struct {
		Contracts []ContractSummary `json:"contracts"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/contracts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Contracts, nil
}

// ExecuteOption adjusts one execution.
type ExecuteOption func(*executeParams)

type executeParams struct {
	nonce            string
	functionIDs      []string
	functionArgument string
}

// WithNonce fixes the request nonce instead of generating one.
func WithNonce(nonce string) ExecuteOption {
	return func(p *executeParams) { p.nonce = nonce }
}

// WithFunctions runs the named functions in the same transaction.
func WithFunctions(argument string, functionIDs ...string) ExecuteOption {
	return func(p *executeParams) { p.functionIDs, p.functionArgument = functionIDs, argument }
}

// Execute signs and submits an execution of contractID.
func (c *Client) Execute(ctx context.Context, contractID, argument string, opts ...ExecuteOption) (*ExecutionResult, error) {
	if c.creds == nil {
		return nil, ErrNoCredentials
	}
	p := executeParams{nonce: c.nonce()}
	for _, o := range opts {
		o(&p)
	}
	req, err := request.NewContractExecution(p.nonce, c.creds.Identity, contractID, argument, p.functionIDs, p.functionArgument)
	if err != nil {
		return nil, status.Wrap(status.InvalidRequest, err, "build execution")
	}
	if err := req.Sign(c.creds.Signer); err != nil {
		return nil, err
	}
	if c.auditor != nil {
		if err := req.SignAsAuditor(c.auditor); err != nil {
			return nil, err
		}
	}
	return c.ExecuteRequest(ctx, req)
}

// ExecuteRequest submits an already signed execution. Retryable failures
// are resubmitted as configured by WithRetries; the nonce is unchanged
// because a failed execution commits nothing.
func (c *Client) ExecuteRequest(ctx context.Context, req *request.ContractExecution) (*ExecutionResult, error) {
	wait := c.backoff
	for attempt := 0; ; attempt++ {
		var res ExecutionResult
		err := c.post(ctx, "/api/v1/contracts/execute", req, &res)
		if err == nil {
			return &res, nil
		}
		if attempt >= c.retries || !status.CodeOf(err).IsRetryable() {
			return nil, err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wait *= 2
	}
}

// Validate replays the history of assetID between the two ages, inclusive.
// Tamper findings come back in the result, not as an error.
func (c *Client) Validate(ctx context.Context, assetID string, startAge, endAge uint32) (*ValidationResult, error) {
	if c.creds == nil {
		return nil, ErrNoCredentials
	}
	req := request.NewLedgerValidation(assetID, c.creds.Identity)
	req.StartAge, req.EndAge = startAge, endAge
	if err := req.Sign(c.creds.Signer); err != nil {
		return nil, err
	}
	var res ValidationResult
	if err := c.post(ctx, "/api/v1/ledger/validate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ValidateBatch validates the full history of every asset in ids. It is an
// operator call and needs a token when the server is protected.
func (c *Client) ValidateBatch(ctx context.Context, ids []string) ([]*ValidationResult, error) {
	var resp struct {
		Results []*ValidationResult `json:"results"`
	}
	if err := c.post(ctx, "/api/v1/ledger/validate/batch", map[string][]string{"asset_ids": ids}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// RetrieveProof fetches the proof of one asset version.
func (c *Client) RetrieveProof(ctx context.Context, assetID string, age uint32) (*Proof, error) {
	if c.creds == nil {
		return nil, ErrNoCredentials
	}
	req := &request.AssetProofRetrieval{Identity: c.creds.Identity, AssetID: assetID, Age: age}
	if err := req.Sign(c.creds.Signer); err != nil {
		return nil, err
	}
	var p Proof
	if err := c.post(ctx, "/api/v1/ledger/proofs", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// call sends body as JSON and decodes a 2xx response into out. Error
// responses are turned back into *status.Error.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	token := c.bearerToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return status.Wrap(status.Unavailable, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return status.Wrap(status.Unavailable, err, "read response")
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorResponse struct {
	StatusCode status.Code `json:"status_code"`
	Status     string      `json:"status"`
	Error      string      `json:"error"`
}

// decodeError rebuilds the server's status error. Bodies that are not an
// ErrorResponse, such as those of the operator token guard or a proxy, are
// classified by HTTP status.
func decodeError(httpStatus int, raw []byte) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	if code, ok := status.ParseCode(er.Status); ok {
		return status.New(code, "%s", strings.TrimPrefix(er.Error, code.String()+": "))
	}

	msg := er.Error
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	code := status.RuntimeError
	switch httpStatus {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = status.Unauthorized
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		code = status.Unavailable
	}
	return status.New(code, "server error %d: %s", httpStatus, msg)
}
