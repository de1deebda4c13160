package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestFetcher(serverURL string, attempts int) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		BaseURL:      serverURL,
		Timeout:      5 * time.Second,
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
	})
}

func TestHTTPFetcherListing(t *testing.T) {
	var gotForm string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		r.ParseForm()
		gotForm = r.PostForm.Get("pagina")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, 1)
	markup, err := f.FetchListing(context.Background(), 2)
	if err != nil {
		t.Fatalf("FetchListing failed: %v", err)
	}
	if markup == "" {
		t.Error("expected markup")
	}
	if gotForm != "2" {
		t.Errorf("expected pagina=2, got %q", gotForm)
	}
}

func TestHTTPFetcherRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html>late success</html>"))
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, 3)
	if _, err := f.FetchListing(context.Background(), 1); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestHTTPFetcherClientErrorIsPermanent(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, 3)
	_, err := f.FetchDetail(context.Background(), server.URL+"/detalle")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", calls)
	}
}

func TestHTTPFetcherSurfacesFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, 2)
	_, err := f.FetchListing(context.Background(), 1)

	var fetchErr *Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetch.Error, got %T: %v", err, err)
	}
	if fetchErr.Strategy != "requests" {
		t.Errorf("unexpected strategy: %q", fetchErr.Strategy)
	}
	if fetchErr.Attempts != 2 {
		t.Errorf("expected 2 attempts recorded, got %d", fetchErr.Attempts)
	}
}

func TestHTTPFetcherCapturesFailingBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html>Access denied by bot filter</html>"))
	}))
	defer server.Close()

	f := newTestFetcher(server.URL, 2)
	_, err := f.FetchListing(context.Background(), 1)

	var fetchErr *Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetch.Error, got %T: %v", err, err)
	}
	if !strings.Contains(fetchErr.Markup, "Access denied") {
		t.Errorf("expected the failing body on the error, got %q", fetchErr.Markup)
	}
}

func TestHTTPFetcherHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := newTestFetcher(server.URL, 3)
	start := time.Now()
	if _, err := f.FetchListing(ctx, 1); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("fetch did not stop on context cancellation")
	}
}
