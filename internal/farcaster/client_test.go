package farcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.PageRPS = 1000 // no pacing in tests
	return NewHTTPClient(cfg)
}

func TestUsersByFIDs_Batching(t *testing.T) {
	var batches []int
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/bulk", r.URL.Path)
		fids := strings.Split(r.URL.Query().Get("fids"), ",")
		batches = append(batches, len(fids))

		users := make([]map[string]any, 0, len(fids))
		for _, f := range fids {
			n, _ := strconv.Atoi(f)
			users = append(users, map[string]any{
				"fid":             n,
				"username":        fmt.Sprintf("user%d", n),
				"custody_address": "0xAABB000000000000000000000000000000000000",
				"verified_addresses": map[string]any{
					"eth_addresses": []string{"0xCCDD000000000000000000000000000000000000"},
					"primary":       map[string]any{"eth_address": "0xCCDD000000000000000000000000000000000000"},
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"users": users})
	})

	fids := make([]uint64, 230)
	for i := range fids {
		fids[i] = uint64(i + 1)
	}
	users, err := client.UsersByFIDs(context.Background(), fids)
	require.NoError(t, err)
	assert.Len(t, users, 230)
	assert.Equal(t, []int{100, 100, 30}, batches, "requests must batch 100 fids")

	// Addresses are normalized to lowercase.
	assert.Equal(t, "0xaabb000000000000000000000000000000000000", users[0].CustodyAddress)
	assert.Equal(t, "0xccdd000000000000000000000000000000000000", users[0].PrimaryEthAddress)
}

func TestUsersByFIDs_ToleratesMissingAddressFields(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"users": []map[string]any{
			{"fid": 7, "username": "bare"},
		}})
	})

	users, err := client.UsersByFIDs(context.Background(), []uint64{7})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Empty(t, users[0].CustodyAddress)
	assert.Empty(t, users[0].VerifiedAddresses)
	assert.Empty(t, users[0].PrimaryEthAddress)
}

func TestCastByHash(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cast", r.URL.Path)
		require.Equal(t, "hash", r.URL.Query().Get("type"))
		json.NewEncoder(w).Encode(map[string]any{"cast": map[string]any{
			"hash": "0xcafe",
			"text": "raffle time",
			"author": map[string]any{
				"fid":      42,
				"username": "host",
			},
		}})
	})

	cast, err := client.CastByHash(context.Background(), "0xcafe")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cast.AuthorFID)
	assert.Equal(t, "host", cast.AuthorUsername)
}

func TestCastByHash_NotFound(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"cast": map[string]any{}})
	})

	_, err := client.CastByHash(context.Background(), "0xmissing")
	assert.Error(t, err)
}

func TestReplies_Pagination(t *testing.T) {
	page := 0
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cast/conversation", r.URL.Path)
		page++
		next := ""
		if page == 1 {
			require.Empty(t, r.URL.Query().Get("cursor"))
			next = "cursor-2"
		} else {
			require.Equal(t, "cursor-2", r.URL.Query().Get("cursor"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"conversation": map[string]any{"cast": map[string]any{
				"direct_replies": []map[string]any{
					{"text": fmt.Sprintf("reply page %d", page), "author": map[string]any{"fid": page}},
				},
			}},
			"next": map[string]any{"cursor": next},
		})
	})

	replies, err := client.Replies(context.Background(), "0xcafe", 20)
	require.NoError(t, err)
	assert.Len(t, replies, 2)
	assert.Equal(t, 2, page)
}

func TestReplies_MaxPagesBound(t *testing.T) {
	pages := 0
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		pages++
		json.NewEncoder(w).Encode(map[string]any{
			"conversation": map[string]any{"cast": map[string]any{
				"direct_replies": []map[string]any{
					{"text": "more", "author": map[string]any{"fid": 1}},
				},
			}},
			"next": map[string]any{"cursor": "always-more"},
		})
	})

	replies, err := client.Replies(context.Background(), "0xcafe", 3)
	require.NoError(t, err)
	assert.Len(t, replies, 3)
	assert.Equal(t, 3, pages, "must stop at maxPages")
}

func TestReplies_PartialOnError(t *testing.T) {
	pages := 0
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		pages++
		if pages == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"conversation": map[string]any{"cast": map[string]any{
				"direct_replies": []map[string]any{
					{"text": "first", "author": map[string]any{"fid": 1}},
				},
			}},
			"next": map[string]any{"cursor": "go-on"},
		})
	})

	replies, err := client.Replies(context.Background(), "0xcafe", 20)
	assert.Error(t, err)
	assert.Len(t, replies, 1, "partial result must be returned alongside the error")
}

func TestPublishCast(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/cast", r.URL.Path)

		var body struct {
			SignerUUID string `json:"signer_uuid"`
			Text       string `json:"text"`
			Embeds     []struct {
				URL string `json:"url"`
			} `json:"embeds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "signer-1", body.SignerUUID)
		require.Len(t, body.Embeds, 2)

		json.NewEncoder(w).Encode(map[string]any{"cast": map[string]any{"hash": "0xposted"}})
	})

	hash, err := client.PublishCast(context.Background(), "signer-1", "winners!", []string{"https://a", "https://b"})
	require.NoError(t, err)
	assert.Equal(t, "0xposted", hash)
}

func TestUsersByAddresses(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/bulk-by-address", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"0xAA00000000000000000000000000000000000001": []map[string]any{
				{"fid": 1, "username": "winner"},
			},
		})
	})

	users, err := client.UsersByAddresses(context.Background(), []string{"0xAA00000000000000000000000000000000000001"})
	require.NoError(t, err)
	// Result keys are lowercased regardless of the API's casing.
	require.Contains(t, users, "0xaa00000000000000000000000000000000000001")
	assert.Equal(t, "winner", users["0xaa00000000000000000000000000000000000001"][0].Username)
}
