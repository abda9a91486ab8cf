package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ---------------------------------------------------------------------------
// NFT metadata service client
// ---------------------------------------------------------------------------

// NFTMetadata resolves collection name and image for NFT prize display.
// Implementations: AlchemyClient (live), StubNFTMetadata (tests).
type NFTMetadata interface {
	// Metadata returns the collection name and image URL for a token.
	Metadata(ctx context.Context, contract common.Address, tokenID *big.Int) (name, imageURL string, err error)
}

// AlchemyClient reads the Alchemy NFT API.
type AlchemyClient struct {
	baseURL string
	http    *http.Client
}

// NewAlchemyClient builds a client for the Base mainnet NFT API endpoint.
func NewAlchemyClient(apiKey string) *AlchemyClient {
	return &AlchemyClient{
		baseURL: "https://base-mainnet.g.alchemy.com/nft/v3/" + apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *AlchemyClient) Metadata(ctx context.Context, contract common.Address, tokenID *big.Int) (string, string, error) {
	q := url.Values{
		"contractAddress": {contract.Hex()},
		"tokenId":         {tokenID.String()},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/getNFTMetadata?"+q.Encode(), nil)
	if err != nil {
		return "", "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("nft metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("nft metadata: status %d", resp.StatusCode)
	}

	var body struct {
		Name     string `json:"name"`
		Contract struct {
			Name string `json:"name"`
		} `json:"contract"`
		Image struct {
			CachedURL   string `json:"cachedUrl"`
			OriginalURL string `json:"originalUrl"`
		} `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("nft metadata: decode: %w", err)
	}

	name := body.Contract.Name
	if name == "" {
		name = body.Name
	}
	image := body.Image.CachedURL
	if image == "" {
		image = body.Image.OriginalURL
	}
	return name, image, nil
}

// StubNFTMetadata is the in-memory test double.
type StubNFTMetadata struct {
	mu       sync.Mutex
	names    map[string]string
	images   map[string]string
	failNext bool
}

func NewStubNFTMetadata() *StubNFTMetadata {
	return &StubNFTMetadata{names: make(map[string]string), images: make(map[string]string)}
}

// SetToken registers metadata for a (contract, tokenID) pair.
func (s *StubNFTMetadata) SetToken(contract common.Address, tokenID *big.Int, name, imageURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contract.Hex() + ":" + tokenID.String()
	s.names[key] = name
	s.images[key] = imageURL
}

// SetFailNext makes the next lookup fail.
func (s *StubNFTMetadata) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *StubNFTMetadata) Metadata(_ context.Context, contract common.Address, tokenID *big.Int) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return "", "", fmt.Errorf("stub: simulated metadata failure")
	}
	key := contract.Hex() + ":" + tokenID.String()
	return s.names[key], s.images[key], nil
}
