// Package nlpchain 是 NLP-Chain REST API 的 Go 客户端。
package nlpchain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/index"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/profile"
	"NLP-Chain/internal/proof"
	"NLP-Chain/internal/token"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the NLP-Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	caller common.Address
	hasID  bool
	key    *ecdsa.PrivateKey
	now    func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithIdentity sends X-Identity without signing. Only useful against a
// daemon running with auth mode "disabled".
func WithIdentity(caller common.Address) Option {
	return func(c *Client) {
		c.caller = caller
		c.hasID = true
	}
}

// WithSigner signs every request with key; the caller identity is the key's address.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		if key == nil {
			return
		}
		c.key = key
		c.caller = crypto.PubkeyToAddress(key.PublicKey)
		c.hasID = true
	}
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("nlpchain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("nlpchain api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient instantiates a client for the API rooted at rawURL.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Caller returns the identity attached to requests, if any.
func (c *Client) Caller() (common.Address, bool) {
	return c.caller, c.hasID
}

// Proof is a submitted proof of work record.
type Proof = proof.Proof

// Block is a ledger block.
type Block = ledger.Block

// ChainState is a ledger head.
type ChainState = ledger.ChainState

// IntegrityReport is the outcome of a ledger walk.
type IntegrityReport = ledger.IntegrityReport

// Profile is a user profile.
type Profile = profile.Profile

// Receipt is a token transfer receipt.
type Receipt = token.Receipt

// Match is one search hit.
type Match = index.Match

// MerkleRoot is the response of the merkle endpoint.
type MerkleRoot struct {
	Root   hashchain.Hash `json:"root"`
	From   uint64         `json:"from"`
	Leaves uint64         `json:"leaves"`
}

// BlockContent is the payload of AddBlock.
type BlockContent struct {
	Text     string    `json:"text"`
	Vector   []float64 `json:"vector,omitempty"`
	Metadata string    `json:"metadata,omitempty"`
}

// Interaction describes a token transfer request.
type Interaction struct {
	From   common.Address
	To     common.Address
	Owner  common.Address
	Amount uint64
}

// SearchQuery holds search parameters; zero values use server defaults.
type SearchQuery struct {
	Query     string
	LedgerID  string
	Threshold float64
	Limit     int
}

// CreateUser initialises the caller's profile.
func (c *Client) CreateUser(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.send(ctx, http.MethodPost, "/api/v1/users", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser fetches a profile.
func (c *Client) GetUser(ctx context.Context, owner common.Address) (*Profile, error) {
	var out Profile
	if err := c.send(ctx, http.MethodGet, "/api/v1/users/"+owner.Hex(), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUserStatus toggles the active flag of owner's profile.
func (c *Client) UpdateUserStatus(ctx context.Context, owner common.Address, active bool) (*Profile, error) {
	var out Profile
	body := map[string]bool{"active": active}
	if err := c.send(ctx, http.MethodPatch, "/api/v1/users/"+owner.Hex()+"/status", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessInteraction asks the daemon to transfer tokens on the caller's behalf.
func (c *Client) ProcessInteraction(ctx context.Context, in Interaction) (*Receipt, error) {
	body := map[string]any{
		"from":   in.From.Hex(),
		"to":     in.To.Hex(),
		"owner":  in.Owner.Hex(),
		"amount": in.Amount,
	}
	var out Receipt
	if err := c.send(ctx, http.MethodPost, "/api/v1/interactions", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitProof submits a data hash and nonce.
func (c *Client) SubmitProof(ctx context.Context, dataHash hashchain.Hash, nonce uint64) (*Proof, error) {
	body := map[string]any{"data_hash": dataHash.String(), "nonce": nonce}
	var out Proof
	if err := c.send(ctx, http.MethodPost, "/api/v1/proofs", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProof fetches one proof.
func (c *Client) GetProof(ctx context.Context, owner common.Address, timestamp int64) (*Proof, error) {
	var out Proof
	endpoint := "/api/v1/proofs/" + owner.Hex() + "/" + strconv.FormatInt(timestamp, 10)
	if err := c.send(ctx, http.MethodGet, endpoint, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProofs lists the owner's most recent proofs.
func (c *Client) ListProofs(ctx context.Context, owner common.Address, limit int) ([]Proof, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Proof
	if err := c.send(ctx, http.MethodGet, "/api/v1/proofs/"+owner.Hex(), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyChain checks the link between two stored proofs. A broken link is
// reported as an *APIError with code INVALID_CHAIN.
func (c *Client) VerifyChain(ctx context.Context, previous, current proof.Key) error {
	body := map[string]any{
		"previous": map[string]any{"owner": previous.Owner.Hex(), "timestamp": previous.Timestamp},
		"current":  map[string]any{"owner": current.Owner.Hex(), "timestamp": current.Timestamp},
	}
	return c.send(ctx, http.MethodPost, "/api/v1/proofs/verify-chain", nil, body, nil)
}

// CreateLedger initialises a ledger owned by the caller. An empty id lets the
// server generate one.
func (c *Client) CreateLedger(ctx context.Context, id string) (*ChainState, error) {
	var body any
	if id != "" {
		body = map[string]string{"id": id}
	}
	var out ChainState
	if err := c.send(ctx, http.MethodPost, "/api/v1/ledgers", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LedgerState returns the ledger head.
func (c *Client) LedgerState(ctx context.Context, id string) (*ChainState, error) {
	var out ChainState
	if err := c.send(ctx, http.MethodGet, "/api/v1/ledgers/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddBlock appends a block.
func (c *Client) AddBlock(ctx context.Context, id string, content BlockContent) (*Block, error) {
	var out Block
	if err := c.send(ctx, http.MethodPost, "/api/v1/ledgers/"+url.PathEscape(id)+"/blocks", nil, content, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBlock fetches one block.
func (c *Client) GetBlock(ctx context.Context, id string, idx uint64) (*Block, error) {
	var out Block
	endpoint := "/api/v1/ledgers/" + url.PathEscape(id) + "/blocks/" + strconv.FormatUint(idx, 10)
	if err := c.send(ctx, http.MethodGet, endpoint, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBlocks pages through blocks starting at from.
func (c *Client) ListBlocks(ctx context.Context, id string, from uint64, limit int) ([]Block, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatUint(from, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Block
	if err := c.send(ctx, http.MethodGet, "/api/v1/ledgers/"+url.PathEscape(id)+"/blocks", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateVector replaces a block's vector.
func (c *Client) UpdateVector(ctx context.Context, id string, idx uint64, vector []float64) (*Block, error) {
	if vector == nil {
		vector = []float64{}
	}
	var out Block
	endpoint := "/api/v1/ledgers/" + url.PathEscape(id) + "/blocks/" + strconv.FormatUint(idx, 10) + "/vector"
	if err := c.send(ctx, http.MethodPut, endpoint, nil, map[string]any{"vector": vector}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyLedger walks the ledger on the server and returns the report.
func (c *Client) VerifyLedger(ctx context.Context, id string) (*IntegrityReport, error) {
	var out IntegrityReport
	if err := c.send(ctx, http.MethodGet, "/api/v1/ledgers/"+url.PathEscape(id)+"/verify", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Merkle returns the Merkle root over blocks [from, to). to=0 means the head.
func (c *Client) Merkle(ctx context.Context, id string, from, to uint64) (*MerkleRoot, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatUint(from, 10))
	if to > 0 {
		q.Set("to", strconv.FormatUint(to, 10))
	}
	var out MerkleRoot
	if err := c.send(ctx, http.MethodGet, "/api/v1/ledgers/"+url.PathEscape(id)+"/merkle", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a similarity search.
func (c *Client) Search(ctx context.Context, query SearchQuery) ([]Match, error) {
	q := url.Values{}
	q.Set("q", query.Query)
	if query.LedgerID != "" {
		q.Set("ledger", query.LedgerID)
	}
	if query.Threshold != 0 {
		q.Set("threshold", strconv.FormatFloat(query.Threshold, 'f', -1, 64))
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	var out []Match
	if err := c.send(ctx, http.MethodGet, "/api/v1/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = data
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req, body); err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request, body []byte) error {
	if !c.hasID {
		return nil
	}
	req.Header.Set(identity.HeaderIdentity, c.caller.Hex())
	if c.key == nil {
		return nil
	}
	ts := c.now().Unix()
	sig, err := identity.Sign(c.key, req.Method, req.URL.Path, ts, body)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(identity.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(identity.HeaderSignature, sig)
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
