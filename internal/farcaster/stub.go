package farcaster

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Stub client (for testing and development)
// ---------------------------------------------------------------------------

// StubClient is a programmable in-memory Client.
type StubClient struct {
	mu        sync.Mutex
	users     map[uint64]User
	casts     map[string]*Cast
	replies   map[string][]Reply
	quotes    map[string][]Cast
	reactions map[string][2]int
	failNext  bool

	// Published records every PublishCast call, inspected by tests.
	Published []PublishedCast
	nextHash  int
}

// PublishedCast records one PublishCast invocation.
type PublishedCast struct {
	SignerUUID string
	Text       string
	Embeds     []string
	Hash       string
}

// NewStubClient creates an empty stub.
func NewStubClient() *StubClient {
	return &StubClient{
		users:     make(map[uint64]User),
		casts:     make(map[string]*Cast),
		replies:   make(map[string][]Reply),
		quotes:    make(map[string][]Cast),
		reactions: make(map[string][2]int),
	}
}

// AddUser registers a user profile.
func (s *StubClient) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Same normalization the live client applies at decode time.
	u.CustodyAddress = strings.ToLower(u.CustodyAddress)
	u.PrimaryEthAddress = strings.ToLower(u.PrimaryEthAddress)
	u.VerifiedAddresses = lowercaseAll(u.VerifiedAddresses)
	s.users[u.FID] = u
}

// AddCast registers a cast.
func (s *StubClient) AddCast(c Cast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casts[c.Hash] = &c
}

// AddReply appends a reply to a cast's conversation.
func (s *StubClient) AddReply(castHash string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[castHash] = append(s.replies[castHash], r)
}

// AddQuote appends a quote cast of castHash.
func (s *StubClient) AddQuote(castHash string, c Cast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[castHash] = append(s.quotes[castHash], c)
}

// SetReactions sets the like and recast counts for a cast.
func (s *StubClient) SetReactions(castHash string, likes, recasts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions[castHash] = [2]int{likes, recasts}
}

// SetFailNext makes the next call fail.
func (s *StubClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *StubClient) shouldFail() error {
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("stub: simulated social API failure")
	}
	return nil
}

func (s *StubClient) UsersByFIDs(_ context.Context, fids []uint64) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	var out []User
	for _, fid := range fids {
		if u, ok := s.users[fid]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *StubClient) UsersByAddresses(_ context.Context, addresses []string) (map[string][]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	out := make(map[string][]User)
	for _, addr := range addresses {
		lower := strings.ToLower(addr)
		for _, u := range s.users {
			if u.CustodyAddress == lower || u.PrimaryEthAddress == lower {
				out[lower] = append(out[lower], u)
				continue
			}
			for _, v := range u.VerifiedAddresses {
				if v == lower {
					out[lower] = append(out[lower], u)
					break
				}
			}
		}
	}
	return out, nil
}

func (s *StubClient) CastByHash(_ context.Context, hash string) (*Cast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	c, ok := s.casts[hash]
	if !ok {
		return nil, fmt.Errorf("stub: cast %s not found", hash)
	}
	copied := *c
	return &copied, nil
}

func (s *StubClient) Replies(_ context.Context, castHash string, maxPages int) ([]Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	replies := s.replies[castHash]
	limit := maxPages * repliesPageSize
	if len(replies) > limit {
		replies = replies[:limit]
	}
	out := make([]Reply, len(replies))
	copy(out, replies)
	return out, nil
}

func (s *StubClient) Quotes(_ context.Context, castHash string) ([]Cast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return nil, err
	}
	out := make([]Cast, len(s.quotes[castHash]))
	copy(out, s.quotes[castHash])
	return out, nil
}

func (s *StubClient) Reactions(_ context.Context, castHash string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return 0, 0, err
	}
	counts := s.reactions[castHash]
	return counts[0], counts[1], nil
}

func (s *StubClient) PublishCast(_ context.Context, signerUUID, text string, embeds []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.shouldFail(); err != nil {
		return "", err
	}
	s.nextHash++
	hash := fmt.Sprintf("0xstubcast%04d", s.nextHash)
	s.Published = append(s.Published, PublishedCast{
		SignerUUID: signerUUID,
		Text:       text,
		Embeds:     embeds,
		Hash:       hash,
	})
	return hash, nil
}
