package directory

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	pkgerrors "github.com/stockroom-hq/stockroom-backend/pkg/errors"
)

func TestClientRankRequest(t *testing.T) {
	buyerID := uuid.MustParse("0f2a3f0a-5a0a-4d7e-9f38-111111111111")
	first := uuid.MustParse("9a1b2c3d-0000-4000-8000-222222222222")
	second := uuid.MustParse("9a1b2c3d-0000-4000-8000-333333333333")
	respBody := `{"suppliers":[{"id":"` + first.String() + `"},{"id":"` + second.String() + `"}]}`

	var capturedURL string
	var capturedHeaders http.Header

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	httpClient := &http.Client{Transport: rt}
	client, err := NewClient("http://directory.test", WithHTTPClient(httpClient), WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ranked, err := client.Rank(context.Background(), "industrial fasteners", buyerID)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if !strings.HasPrefix(capturedURL, "http://directory.test/v1/suppliers/rank?") {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if !strings.Contains(capturedURL, "buyer_id="+buyerID.String()) {
		t.Fatalf("buyer_id missing from URL %q", capturedURL)
	}
	if !strings.Contains(capturedURL, "category=industrial+fasteners") {
		t.Fatalf("category missing from URL %q", capturedURL)
	}
	if capturedHeaders.Get(apiKeyHeader) != "test-key" {
		t.Fatalf("api key header missing")
	}
	if len(ranked) != 2 || ranked[0] != first || ranked[1] != second {
		t.Fatalf("unexpected ranking %v", ranked)
	}
}

func TestClientRankValidatesInput(t *testing.T) {
	client, err := NewClient("http://directory.test")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Rank(context.Background(), "  ", uuid.New()); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty category, got %v", err)
	}
	if _, err := client.Rank(context.Background(), "fasteners", uuid.Nil); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for nil buyer, got %v", err)
	}
}

func TestClientRankUpstreamFailure(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader(`{"error":"ranker offline"}`)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient("http://directory.test", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Rank(context.Background(), "fasteners", uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("expected upstream status in error, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("   "); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
