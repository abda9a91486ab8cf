package farcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Social API client
// ---------------------------------------------------------------------------

// User is a resolved Farcaster identity with its wallet set. Optional fields
// decode to their zero value when the API omits them.
type User struct {
	FID               uint64   `json:"fid"`
	Username          string   `json:"username"`
	CustodyAddress    string   `json:"custody_address"`
	VerifiedAddresses []string `json:"verified_eth_addresses"`
	PrimaryEthAddress string   `json:"primary_eth_address"`
}

// Cast is a post referenced by hash.
type Cast struct {
	Hash           string `json:"hash"`
	AuthorFID      uint64 `json:"author_fid"`
	AuthorUsername string `json:"author_username"`
	Text           string `json:"text"`
}

// Reply is one direct reply on a cast.
type Reply struct {
	AuthorFID uint64 `json:"author_fid"`
	Text      string `json:"text"`
}

// Client is the social API surface the pipeline consumes.
// Implementations: HTTPClient (live), StubClient (testing).
type Client interface {
	// UsersByFIDs resolves identifiers to profiles with wallet sets,
	// batching 100 per request.
	UsersByFIDs(ctx context.Context, fids []uint64) ([]User, error)

	// UsersByAddresses resolves wallets to identities; the map is keyed by
	// lowercased address. Unknown addresses are simply absent.
	UsersByAddresses(ctx context.Context, addresses []string) (map[string][]User, error)

	// CastByHash resolves a cast and its author.
	CastByHash(ctx context.Context, hash string) (*Cast, error)

	// Replies pages through direct replies on a cast, up to maxPages pages
	// of 50. A pagination break mid-scan returns the partial result.
	Replies(ctx context.Context, castHash string, maxPages int) ([]Reply, error)

	// Quotes returns quote casts of a cast.
	Quotes(ctx context.Context, castHash string) ([]Cast, error)

	// Reactions returns like and recast counts for a cast.
	Reactions(ctx context.Context, castHash string) (likes, recasts int, err error)

	// PublishCast posts a new cast via the given signer and returns its hash.
	PublishCast(ctx context.Context, signerUUID, text string, embeds []string) (string, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// Pagination pacing, requests per second. Replaces fixed sleeps between
	// pages with a shared token bucket.
	PageRPS float64 `yaml:"page_rps"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.neynar.com/v2/farcaster",
		Timeout: 10 * time.Second,
		PageRPS: 10,
	}
}

// HTTPClient is the live Client.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient creates a live social API client.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageRPS == 0 {
		cfg.PageRPS = 10
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.PageRPS), 1),
	}
}

// Health checks API reachability; used by the health registry.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.UsersByFIDs(ctx, []uint64{1})
	return err
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, dest any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("farcaster: build request: %w", err)
	}
	return c.do(req, dest)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, dest any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("farcaster: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("farcaster: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dest)
}

func (c *HTTPClient) do(req *http.Request, dest any) error {
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("farcaster: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("farcaster: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("farcaster: %s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(string(raw), 200))
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("farcaster: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// apiUser is the wire shape of a user profile; address fields are optional.
type apiUser struct {
	FID               uint64 `json:"fid"`
	Username          string `json:"username"`
	CustodyAddress    string `json:"custody_address"`
	VerifiedAddresses struct {
		EthAddresses []string `json:"eth_addresses"`
		Primary      struct {
			EthAddress string `json:"eth_address"`
		} `json:"primary"`
	} `json:"verified_addresses"`
}

func (u apiUser) toUser() User {
	return User{
		FID:               u.FID,
		Username:          u.Username,
		CustodyAddress:    strings.ToLower(u.CustodyAddress),
		VerifiedAddresses: lowercaseAll(u.VerifiedAddresses.EthAddresses),
		PrimaryEthAddress: strings.ToLower(u.VerifiedAddresses.Primary.EthAddress),
	}
}

func lowercaseAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

const fidBatchSize = 100

func (c *HTTPClient) UsersByFIDs(ctx context.Context, fids []uint64) ([]User, error) {
	var users []User
	for start := 0; start < len(fids); start += fidBatchSize {
		end := start + fidBatchSize
		if end > len(fids) {
			end = len(fids)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return users, err
		}

		parts := make([]string, 0, end-start)
		for _, fid := range fids[start:end] {
			parts = append(parts, strconv.FormatUint(fid, 10))
		}

		var resp struct {
			Users []apiUser `json:"users"`
		}
		q := url.Values{"fids": {strings.Join(parts, ",")}}
		if err := c.get(ctx, "/user/bulk", q, &resp); err != nil {
			return users, err
		}
		for _, u := range resp.Users {
			users = append(users, u.toUser())
		}
	}
	return users, nil
}

func (c *HTTPClient) UsersByAddresses(ctx context.Context, addresses []string) (map[string][]User, error) {
	if len(addresses) == 0 {
		return map[string][]User{}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp map[string][]apiUser
	q := url.Values{"addresses": {strings.Join(lowercaseAll(addresses), ",")}}
	if err := c.get(ctx, "/user/bulk-by-address", q, &resp); err != nil {
		return nil, err
	}

	out := make(map[string][]User, len(resp))
	for addr, apiUsers := range resp {
		users := make([]User, 0, len(apiUsers))
		for _, u := range apiUsers {
			users = append(users, u.toUser())
		}
		out[strings.ToLower(addr)] = users
	}
	return out, nil
}

func (c *HTTPClient) CastByHash(ctx context.Context, hash string) (*Cast, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Cast struct {
			Hash   string `json:"hash"`
			Text   string `json:"text"`
			Author struct {
				FID      uint64 `json:"fid"`
				Username string `json:"username"`
			} `json:"author"`
		} `json:"cast"`
	}
	q := url.Values{"identifier": {hash}, "type": {"hash"}}
	if err := c.get(ctx, "/cast", q, &resp); err != nil {
		return nil, err
	}
	if resp.Cast.Hash == "" {
		return nil, fmt.Errorf("farcaster: cast %s not found", hash)
	}
	return &Cast{
		Hash:           resp.Cast.Hash,
		AuthorFID:      resp.Cast.Author.FID,
		AuthorUsername: resp.Cast.Author.Username,
		Text:           resp.Cast.Text,
	}, nil
}

const repliesPageSize = 50

func (c *HTTPClient) Replies(ctx context.Context, castHash string, maxPages int) ([]Reply, error) {
	var replies []Reply
	cursor := ""
	for page := 0; page < maxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return replies, err
		}

		q := url.Values{
			"identifier":  {castHash},
			"type":        {"hash"},
			"reply_depth": {"1"},
			"limit":       {strconv.Itoa(repliesPageSize)},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp struct {
			Conversation struct {
				Cast struct {
					DirectReplies []struct {
						Text   string `json:"text"`
						Author struct {
							FID uint64 `json:"fid"`
						} `json:"author"`
					} `json:"direct_replies"`
				} `json:"cast"`
			} `json:"conversation"`
			Next struct {
				Cursor string `json:"cursor"`
			} `json:"next"`
		}
		if err := c.get(ctx, "/cast/conversation", q, &resp); err != nil {
			// Pagination break mid-scan: accept the partial result.
			return replies, err
		}

		for _, r := range resp.Conversation.Cast.DirectReplies {
			replies = append(replies, Reply{AuthorFID: r.Author.FID, Text: r.Text})
		}
		if resp.Next.Cursor == "" {
			break
		}
		cursor = resp.Next.Cursor
	}
	return replies, nil
}

func (c *HTTPClient) Quotes(ctx context.Context, castHash string) ([]Cast, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Casts []struct {
			Hash   string `json:"hash"`
			Text   string `json:"text"`
			Author struct {
				FID      uint64 `json:"fid"`
				Username string `json:"username"`
			} `json:"author"`
		} `json:"casts"`
	}
	q := url.Values{"identifier": {castHash}, "type": {"hash"}, "limit": {"100"}}
	if err := c.get(ctx, "/cast/quotes", q, &resp); err != nil {
		return nil, err
	}
	casts := make([]Cast, 0, len(resp.Casts))
	for _, qc := range resp.Casts {
		casts = append(casts, Cast{
			Hash:           qc.Hash,
			AuthorFID:      qc.Author.FID,
			AuthorUsername: qc.Author.Username,
			Text:           qc.Text,
		})
	}
	return casts, nil
}

// Reactions reads the counts off the cast object rather than paging the
// reaction list.
func (c *HTTPClient) Reactions(ctx context.Context, castHash string) (int, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}
	var resp struct {
		Cast struct {
			Hash      string `json:"hash"`
			Reactions struct {
				LikesCount   int `json:"likes_count"`
				RecastsCount int `json:"recasts_count"`
			} `json:"reactions"`
		} `json:"cast"`
	}
	q := url.Values{"identifier": {castHash}, "type": {"hash"}}
	if err := c.get(ctx, "/cast", q, &resp); err != nil {
		return 0, 0, err
	}
	if resp.Cast.Hash == "" {
		return 0, 0, fmt.Errorf("farcaster: cast %s not found", castHash)
	}
	return resp.Cast.Reactions.LikesCount, resp.Cast.Reactions.RecastsCount, nil
}

func (c *HTTPClient) PublishCast(ctx context.Context, signerUUID, text string, embeds []string) (string, error) {
	type embed struct {
		URL string `json:"url"`
	}
	body := struct {
		SignerUUID string  `json:"signer_uuid"`
		Text       string  `json:"text"`
		Embeds     []embed `json:"embeds,omitempty"`
	}{SignerUUID: signerUUID, Text: text}
	for _, e := range embeds {
		body.Embeds = append(body.Embeds, embed{URL: e})
	}

	var resp struct {
		Cast struct {
			Hash string `json:"hash"`
		} `json:"cast"`
	}
	if err := c.post(ctx, "/cast", body, &resp); err != nil {
		return "", err
	}
	return resp.Cast.Hash, nil
}
