package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestServices_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if got := r.URL.Query().Get("action"); got != "services" {
			t.Fatalf("action = %q, want services", got)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Fatalf("key = %q, want test-key", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"service":"101","name":"Instagram Followers","type":"Default","rate":"0.90","min":"100","max":"10000","category":"Instagram","dripfeed":true,"refill":false},
			{"service":102,"name":"TikTok Likes","type":"Default","rate":1.25,"min":50,"max":5000,"category":"TikTok"}
		]`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	services, err := client.Services(ctx)
	if err != nil {
		t.Fatalf("Services error: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("got %d services, want 2", len(services))
	}

	first := services[0]
	if first.ServiceID != "101" || first.Name != "Instagram Followers" {
		t.Fatalf("unexpected first service: %+v", first)
	}
	if first.Rate.String() != "0.9" || first.Min != 100 || first.Max != 10000 {
		t.Fatalf("unexpected first service numbers: %+v", first)
	}
	if !first.Dripfeed {
		t.Fatalf("expected dripfeed for first service")
	}

	// Второй элемент закодирован числами, а не строками.
	second := services[1]
	if second.ServiceID != "102" || second.Rate.String() != "1.25" || second.Min != 50 {
		t.Fatalf("unexpected second service: %+v", second)
	}
}

func TestBalance_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("action"); got != "balance" {
			t.Fatalf("action = %q, want balance", got)
		}
		_, _ = w.Write([]byte(`{"balance":"100.84292","currency":"USD"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	res, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if res.Balance.String() != "100.84292" || res.Currency != "USD" {
		t.Fatalf("unexpected balance: %+v", res)
	}
}

func TestAddOrder_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "add" {
			t.Fatalf("action = %q, want add", q.Get("action"))
		}
		if q.Get("service") != "101" || q.Get("quantity") != "2500" {
			t.Fatalf("unexpected order params: %v", q)
		}
		if q.Get("link") != "https://instagram.com/someuser" {
			t.Fatalf("link = %q", q.Get("link"))
		}
		if q.Get("runs") != "5" || q.Get("interval") != "30" {
			t.Fatalf("expected dripfeed params, got %v", q)
		}
		_, _ = w.Write([]byte(`{"order":"23501","charge":"2.25","start_count":"0","remains":"2500"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	res, err := client.AddOrder(context.Background(), AddOrderParams{
		ServiceRef: "101",
		Link:       "https://instagram.com/someuser",
		Quantity:   2500,
		Runs:       5,
		Interval:   30,
	})
	if err != nil {
		t.Fatalf("AddOrder error: %v", err)
	}
	if res.OrderRef != "23501" || res.Charge.String() != "2.25" || res.Remains != 2500 {
		t.Fatalf("unexpected order info: %+v", res)
	}
}

func TestAddOrder_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"not_enough_funds"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	_, err := client.AddOrder(context.Background(), AddOrderParams{ServiceRef: "101", Link: "https://t.me/ch", Quantity: 100})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestRequest_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	_, err := client.Balance(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestRequest_TransientErrorRetried(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"balance":"5.00","currency":"USD"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	res, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance error after retry: %v", err)
	}
	if res.Balance.String() != "5" {
		t.Fatalf("unexpected balance: %+v", res)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestStatus_Malformed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"charge":"not-a-number","status":"Completed"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	_, err := client.Status(context.Background(), "23501")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestStatusBatch_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "status" {
			t.Fatalf("action = %q, want status", q.Get("action"))
		}
		if q.Get("orders") != "1,2,3" {
			t.Fatalf("orders = %q, want 1,2,3", q.Get("orders"))
		}
		_, _ = w.Write([]byte(`{
			"1": {"charge":"0.27","start_count":"100","status":"In progress","remains":"50","currency":"USD"},
			"2": {"charge":"1.44","start_count":"200","status":"Completed","remains":"0","currency":"USD"},
			"3": {"error":"Incorrect order ID"}
		}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	res, err := client.StatusBatch(context.Background(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("StatusBatch error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d statuses, want 2 (error entry skipped)", len(res))
	}
	if res["1"].Status != "In progress" || res["1"].Remains != 50 {
		t.Fatalf("unexpected status for order 1: %+v", res["1"])
	}
	if res["2"].Status != "Completed" || res["2"].StartCount != 200 {
		t.Fatalf("unexpected status for order 2: %+v", res["2"])
	}
}

func TestStatusBatch_Empty(t *testing.T) {
	client := NewClient("https://provider.example", "key")

	res, err := client.StatusBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("StatusBatch error: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("expected empty result")
	}
}

func TestNotConfigured(t *testing.T) {
	var client *Client

	_, err := client.Balance(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
