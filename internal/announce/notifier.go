package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/neynartodes/backend/internal/contest"
)

// ---------------------------------------------------------------------------
// Subscriber push notifications
// ---------------------------------------------------------------------------

// Notifier pushes a winner notification to subscribed users after the
// announcement cast posts. Implementations: NeynarNotifier (live),
// StubNotifier (tests).
type Notifier interface {
	// NotifyWinners sends a push notification for one announced contest.
	NotifyWinners(ctx context.Context, id contest.ID, castHash, message string) error
}

// NeynarNotifier publishes frame notifications to every subscriber of the
// mini app. An empty target_fids list means "all subscribed users".
type NeynarNotifier struct {
	baseURL   string
	apiKey    string
	targetURL string
	http      *http.Client
}

// NewNeynarNotifier builds a live notifier. targetURL is the mini app page
// the notification opens.
func NewNeynarNotifier(apiKey, targetURL string) *NeynarNotifier {
	return &NeynarNotifier{
		baseURL:   "https://api.neynar.com/v2/farcaster",
		apiKey:    apiKey,
		targetURL: targetURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (n *NeynarNotifier) NotifyWinners(ctx context.Context, id contest.ID, castHash, message string) error {
	body := struct {
		TargetFIDs   []uint64 `json:"target_fids"`
		Notification struct {
			Title     string `json:"title"`
			Body      string `json:"body"`
			TargetURL string `json:"target_url"`
		} `json:"notification"`
	}{TargetFIDs: []uint64{}}
	body.Notification.Title = fmt.Sprintf("Raffle %s results are in!", id)
	body.Notification.Body = message
	body.Notification.TargetURL = n.targetURL

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		n.baseURL+"/frame/notifications", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", n.apiKey)

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: status %d", resp.StatusCode)
	}
	return nil
}

// StubNotifier records notification calls for tests.
type StubNotifier struct {
	mu       sync.Mutex
	failNext bool

	// Sent records every NotifyWinners call.
	Sent []SentNotification
}

// SentNotification is one recorded NotifyWinners invocation.
type SentNotification struct {
	ID       contest.ID
	CastHash string
	Message  string
}

func NewStubNotifier() *StubNotifier { return &StubNotifier{} }

// SetFailNext makes the next call fail.
func (s *StubNotifier) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *StubNotifier) NotifyWinners(_ context.Context, id contest.ID, castHash, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = append(s.Sent, SentNotification{ID: id, CastHash: castHash, Message: message})
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("stub: simulated notification failure")
	}
	return nil
}
