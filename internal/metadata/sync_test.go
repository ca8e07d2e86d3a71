package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"insider-tracker/pkg/types"
)

func TestFetchAllMarketsStopsOnSentinel(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cursor := r.URL.Query().Get("next_cursor")
		var page types.GammaMarketPage
		switch cursor {
		case "":
			page = types.GammaMarketPage{
				Data:       []types.GammaMarket{{ConditionID: "m1"}},
				NextCursor: "abc123",
			}
		case "abc123":
			page = types.GammaMarketPage{
				Data:       []types.GammaMarket{{ConditionID: "m2"}},
				NextCursor: types.PaginationSentinel,
			}
		default:
			t.Fatalf("unexpected cursor %q after sentinel returned", cursor)
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL}, nil, nil)
	markets, err := s.fetchAllMarkets(context.Background())
	if err != nil {
		t.Fatalf("fetchAllMarkets() error = %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("fetchAllMarkets() returned %d markets, want 2", len(markets))
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 requests (stop at sentinel), got %d", calls)
	}
}

func TestStartFailsOnInitialSyncError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, SyncInterval: time.Hour}, nil, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when initial sync fails")
	}
	if s.State() != StateError {
		t.Errorf("State() = %v, want %v", s.State(), StateError)
	}
}

func TestDeriveCategory(t *testing.T) {
	tests := []struct {
		text string
		want types.Category
	}{
		{"Will Bitcoin hit $100k?", types.CategoryCrypto},
		{"Who wins the presidential election?", types.CategoryPolitics},
		{"Will the Fed cut interest rates?", types.CategoryFinance},
		{"Random question about nothing relevant", types.CategoryOther},
	}
	for _, tt := range tests {
		if got := deriveCategory(tt.text); got != tt.want {
			t.Errorf("deriveCategory(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	md := types.MarketMetadata{
		ConditionID: "cond-1",
		Question:    "Will it rain?",
		Slug:        "will-it-rain",
		StartDate:   time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Active:      true,
		Closed:      false,
		Category:    types.CategoryOther,
	}
	got, ok := decode(encode(md))
	if !ok {
		t.Fatal("decode() failed on its own encode() output")
	}
	if got.ConditionID != md.ConditionID || got.Question != md.Question || got.Category != md.Category {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, md)
	}
	if !got.StartDate.Equal(md.StartDate) {
		t.Errorf("StartDate round trip mismatch: got %v, want %v", got.StartDate, md.StartDate)
	}
}
