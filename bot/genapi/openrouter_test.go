package genapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	coreconfig "github.com/karwa/bannerbot/core/config"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Reason
	}{
		{402, ReasonInsufficientCredits},
		{429, ReasonRateLimited},
		{408, ReasonTimeout},
		{504, ReasonTimeout},
		{500, ReasonUnavailable},
		{503, ReasonUnavailable},
		{400, ReasonUnknown},
		{418, ReasonUnknown},
	}
	for _, tc := range cases {
		got := ClassifyStatus(tc.status, "")
		if got.Reason != tc.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tc.status, got.Reason, tc.want)
		}
		if got.HTTPCode != tc.status {
			t.Errorf("ClassifyStatus(%d) HTTPCode = %d", tc.status, got.HTTPCode)
		}
	}
}

func TestReasonOf(t *testing.T) {
	err := error(&Error{Reason: ReasonRateLimited})
	if got := ReasonOf(err); got != ReasonRateLimited {
		t.Errorf("ReasonOf = %s, want rate_limited", got)
	}
	if got := ReasonOf(errors.New("plain")); got != ReasonUnknown {
		t.Errorf("ReasonOf(plain) = %s, want unknown", got)
	}
	if got := ReasonOf(nil); got != ReasonUnknown {
		t.Errorf("ReasonOf(nil) = %s, want unknown", got)
	}
}

func TestDimensions(t *testing.T) {
	if w, h := RatioBanner3x1.Dimensions(); w != 1500 || h != 500 {
		t.Errorf("banner dimensions = %dx%d, want 1500x500", w, h)
	}
	if w, h := RatioSquare1x1.Dimensions(); w != 1000 || h != 1000 {
		t.Errorf("square dimensions = %dx%d, want 1000x1000", w, h)
	}
}

func newTestClient(url string, retries int) *OpenRouter {
	return NewOpenRouter(coreconfig.GenerationConfig{
		BaseURL:        url,
		APIKey:         "test-key",
		Model:          "test-model",
		TimeoutSeconds: 5,
		MaxRetries:     retries,
		BackoffSeconds: 1,
	})
}

func TestGenerateSuccess(t *testing.T) {
	img := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"images":[{"image_url":{"url":"` + dataURL + `"}}]}}]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 0).Generate(context.Background(), Request{
		Kind:        KindTextToImage,
		AspectRatio: RatioSquare1x1,
		Prompt:      "a lighthouse",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(got) != string(img) {
		t.Fatalf("image bytes mismatch")
	}
}

func TestGenerateCreditsFailureNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient credits"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Generate(context.Background(), Request{
		Kind:        KindASCII,
		AspectRatio: RatioBanner3x1,
		Prompt:      "HELLO",
	})
	if err == nil {
		t.Fatal("want error")
	}
	if ReasonOf(err) != ReasonInsufficientCredits {
		t.Fatalf("reason = %s, want insufficient_credits", ReasonOf(err))
	}
	if calls != 1 {
		t.Fatalf("calls = %d, credit failures must not be retried", calls)
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls int
	img := []byte{1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"images":[{"image_url":{"url":"` + dataURL + `"}}]}}]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, 2).Generate(context.Background(), Request{
		Kind:        KindTextToImage,
		AspectRatio: RatioSquare1x1,
		Prompt:      "retry me",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if len(got) != len(img) {
		t.Fatalf("image bytes mismatch")
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"images":[]}}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Generate(context.Background(), Request{
		Kind:        KindTextToImage,
		AspectRatio: RatioSquare1x1,
		Prompt:      "nothing",
	})
	if ReasonOf(err) != ReasonUnavailable {
		t.Fatalf("reason = %s, want unavailable", ReasonOf(err))
	}
}
