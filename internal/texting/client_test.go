package texting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type gatewayStub struct {
	mu     sync.Mutex
	auth   []string
	bodies []sendRequest
	status int
}

func (s *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.bodies = append(s.bodies, body)
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func newTestClient(t *testing.T, stub *gatewayStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return New(Config{GatewayURL: srv.URL + "/messages", APIKey: "k1", From: "+14155550000", PreviewBaseURL: "https://preview.example.com/", Burst: 10})
}

func TestSend_NormalizesAndPosts(t *testing.T) {
	stub := &gatewayStub{}
	c := newTestClient(t, stub)

	if err := c.Send(context.Background(), "(650) 253-0001", "hello"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(stub.bodies) != 1 {
		t.Fatalf("expected 1 request; got %d", len(stub.bodies))
	}
	got := stub.bodies[0]
	if got.To != "+16502530001" || got.From != "+14155550000" || got.Body != "hello" {
		t.Fatalf("unexpected request body %+v", got)
	}
	if stub.auth[0] != "Bearer k1" {
		t.Fatalf("unexpected auth header %q", stub.auth[0])
	}
}

func TestSend_Errors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrRejected},
		{http.StatusTooManyRequests, ErrGateway},
		{http.StatusBadGateway, ErrGateway},
	}
	for _, tc := range cases {
		stub := &gatewayStub{status: tc.status}
		c := newTestClient(t, stub)
		if err := c.Send(context.Background(), "+16502530001", "hi"); !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v; got %v", tc.status, tc.want, err)
		}
	}

	c := newTestClient(t, &gatewayStub{})
	if err := c.Send(context.Background(), "not a number", "hi"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected invalid number rejected; got %v", err)
	}
	if err := c.Send(context.Background(), "+16502530001", "  "); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected empty body rejected; got %v", err)
	}
	if err := New(Config{}).Send(context.Background(), "+16502530001", "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured; got %v", err)
	}
}

func TestPreviewLink(t *testing.T) {
	c := New(Config{PreviewBaseURL: "https://preview.example.com/"})
	if got := c.PreviewLink("lead 1"); got != "https://preview.example.com/leads/lead%201" {
		t.Fatalf("unexpected link %q", got)
	}
}
