// Package ledger is a thin JSON-RPC client for the ledger network: balance
// and signature-history reads, account lookups and transaction submission.
package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// Client wraps ledger RPC calls with rate limiting
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *RateLimiter
	reqID      uint64
}

// NewClient creates a new ledger RPC client
func NewClient(rpcURL, redisURL string, rateLimit int) *Client {
	var limiter *RateLimiter
	if redisURL != "" {
		l, err := NewRateLimiter(redisURL, rateLimit, "ledger_rpc:rate_limit")
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize RateLimiter, proceeding without limits")
		} else {
			limiter = l
			log.Info().Msg("Ledger RateLimiter initialized")
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: rpcURL,
		limiter: limiter,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a ledger-node error; the message carries the program error
// string when a transaction is rejected.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	if c.limiter != nil {
		if err := c.limiter.WaitForTicket(ctx); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.reqID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rpc error (status %d): %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
	}
	return nil
}

// GetBalance returns the lamport balance of an address.
func (c *Client) GetBalance(ctx context.Context, address string) (int64, error) {
	var result struct {
		Value int64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{address}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// SignatureInfo is one entry of an address's transaction history.
type SignatureInfo struct {
	Signature string `json:"signature"`
	BlockTime *int64 `json:"blockTime"`
	Err       any    `json:"err"`
}

// GetSignaturesForAddress returns recent transaction signatures for an
// address, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	var result []SignatureInfo
	params := []any{address, map[string]any{"limit": limit}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetAccountInfo fetches raw account data, or nil if the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string) ([]byte, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"` // [base64 payload, encoding]
		} `json:"value"`
	}
	params := []any{address, map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode account data: %w", err)
	}
	return data, nil
}

// AccountExists reports whether an account exists on the ledger.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	data, err := c.GetAccountInfo(ctx, address)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// ScoreSubmission carries everything a score-request transaction references.
type ScoreSubmission struct {
	ComputationOffset uint64
	ClusterOffset     uint32
	Wallet            string
	CreditAccount     string
	Ciphertexts       [8][]byte
	ClientPublicKey   [32]byte
	Nonce             [16]byte
}

// SubmitScoreRequest signs and sends the score-request transaction and
// returns its signature.
func (c *Client) SubmitScoreRequest(ctx context.Context, payer ed25519.PrivateKey, sub ScoreSubmission) (string, error) {
	envelope := buildSubmissionEnvelope(sub)
	sig := ed25519.Sign(payer, envelope)

	wire := make([]byte, 0, len(sig)+len(envelope))
	wire = append(wire, sig...)
	wire = append(wire, envelope...)

	var signature string
	params := []any{
		base64.StdEncoding.EncodeToString(wire),
		map[string]any{"encoding": "base64", "preflightCommitment": "confirmed"},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SubmitCompDefInit signs and sends the computation-definition
// initialization transaction.
func (c *Client) SubmitCompDefInit(ctx context.Context, payer ed25519.PrivateKey, programAddress string) (string, error) {
	program, err := base58.Decode(programAddress)
	if err != nil {
		return "", fmt.Errorf("invalid program address: %w", err)
	}

	envelope := append([]byte("init_comp_defs:"), program...)
	sig := ed25519.Sign(payer, envelope)

	wire := make([]byte, 0, len(sig)+len(envelope))
	wire = append(wire, sig...)
	wire = append(wire, envelope...)

	var signature string
	params := []any{
		base64.StdEncoding.EncodeToString(wire),
		map[string]any{"encoding": "base64", "preflightCommitment": "confirmed"},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// WaitForFinalization polls until the transaction reaches durable settlement
// or the context expires.
func (c *Client) WaitForFinalization(ctx context.Context, signature string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var result struct {
			Value []*struct {
				ConfirmationStatus string `json:"confirmationStatus"`
				Err                any    `json:"err"`
			} `json:"value"`
		}
		if err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &result); err != nil {
			log.Warn().Err(err).Str("signature", signature).Msg("Finalization status check failed")
			continue
		}
		if len(result.Value) == 0 || result.Value[0] == nil {
			continue
		}
		if result.Value[0].Err != nil {
			return fmt.Errorf("transaction failed on-chain: %v", result.Value[0].Err)
		}
		if result.Value[0].ConfirmationStatus == "finalized" {
			return nil
		}
	}
}

// Close releases the limiter's redis connection.
func (c *Client) Close() error {
	if c.limiter != nil {
		return c.limiter.Close()
	}
	return nil
}

// buildSubmissionEnvelope serializes the submission in a fixed layout:
// computation offset, cluster offset, wallet, credit account, client pubkey,
// nonce, 8 ciphertexts.
func buildSubmissionEnvelope(sub ScoreSubmission) []byte {
	var buf bytes.Buffer

	offset := make([]byte, 8)
	binary.LittleEndian.PutUint64(offset, sub.ComputationOffset)
	buf.Write(offset)

	cluster := make([]byte, 4)
	binary.LittleEndian.PutUint32(cluster, sub.ClusterOffset)
	buf.Write(cluster)

	wallet, _ := base58.Decode(sub.Wallet)
	buf.Write(wallet)
	credit, _ := base58.Decode(sub.CreditAccount)
	buf.Write(credit)

	buf.Write(sub.ClientPublicKey[:])
	buf.Write(sub.Nonce[:])

	for _, ct := range sub.Ciphertexts {
		length := make([]byte, 4)
		binary.LittleEndian.PutUint32(length, uint32(len(ct)))
		buf.Write(length)
		buf.Write(ct)
	}
	return buf.Bytes()
}
