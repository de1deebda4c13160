package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// stubStrategy is a scripted Strategy for fallback tests.
type stubStrategy struct {
	name    string
	markup  string
	err     error
	calls   int
	details int
}

func (s *stubStrategy) FetchListing(ctx context.Context, page int) (string, error) {
	s.calls++
	return s.markup, s.err
}

func (s *stubStrategy) FetchDetail(ctx context.Context, url string) (string, error) {
	s.details++
	return s.markup, s.err
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Close() error { return nil }

func validMarkup(markup string) bool {
	return strings.Contains(markup, "resultados")
}

func TestAutoFetcherPrimarySucceeds(t *testing.T) {
	primary := &stubStrategy{name: "requests", markup: "<table>resultados</table>"}
	fallback := &stubStrategy{name: "browser", markup: "<table>resultados</table>"}

	f := NewAutoFetcher(primary, fallback, AutoOptions{Validate: validMarkup})
	markup, err := f.FetchListing(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if markup == "" {
		t.Error("expected markup")
	}
	if fallback.calls != 0 {
		t.Error("fallback must not run when primary succeeds")
	}
	if f.Method() != "requests" {
		t.Errorf("expected method requests, got %q", f.Method())
	}
}

func TestAutoFetcherFallsBackOnError(t *testing.T) {
	primary := &stubStrategy{name: "requests", err: errors.New("connection refused")}
	fallback := &stubStrategy{name: "browser", markup: "<table>resultados</table>"}

	f := NewAutoFetcher(primary, fallback, AutoOptions{Validate: validMarkup})
	if _, err := f.FetchListing(context.Background(), 1); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if fallback.calls != 1 {
		t.Errorf("expected fallback to run once, ran %d times", fallback.calls)
	}
	if f.Method() != "browser" {
		t.Errorf("expected method browser, got %q", f.Method())
	}
}

func TestAutoFetcherFallsBackOnInvalidMarkup(t *testing.T) {
	tmpDir := t.TempDir()
	primary := &stubStrategy{name: "requests", markup: "<html>access denied</html>"}
	fallback := &stubStrategy{name: "browser", markup: "<table>resultados</table>"}

	f := NewAutoFetcher(primary, fallback, AutoOptions{
		Validate: validMarkup,
		Debug:    DebugSink{Dir: tmpDir},
	})
	if _, err := f.FetchListing(context.Background(), 1); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}

	// The rejected markup must land in the debug area.
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("reading debug dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 debug artifact, got %d", len(entries))
	}
	data, _ := os.ReadFile(filepath.Join(tmpDir, entries[0].Name()))
	if !strings.Contains(string(data), "access denied") {
		t.Error("debug artifact should hold the failing markup")
	}
}

func TestAutoFetcherBothStrategiesFail(t *testing.T) {
	primary := &stubStrategy{name: "requests", err: errors.New("timeout")}
	fallback := &stubStrategy{name: "browser", err: errors.New("browser crashed")}

	f := NewAutoFetcher(primary, fallback, AutoOptions{Validate: validMarkup})
	markup, err := f.FetchListing(context.Background(), 1)
	if err == nil {
		t.Fatal("exhausting both strategies must surface an error, never an empty result")
	}
	if markup != "" {
		t.Errorf("expected empty markup with error, got %q", markup)
	}
	if !strings.Contains(err.Error(), "browser crashed") {
		t.Errorf("expected the fallback failure to be reported, got %v", err)
	}
}

func TestAutoFetcherPersistsErrorMarkup(t *testing.T) {
	tmpDir := t.TempDir()
	blocked := &Error{
		Strategy: "requests",
		Attempts: 3,
		Markup:   "<html>blocked by firewall</html>",
		Err:      errors.New("status 403"),
	}
	primary := &stubStrategy{name: "requests", err: blocked}
	fallback := &stubStrategy{name: "browser", err: errors.New("browser crashed")}

	f := NewAutoFetcher(primary, fallback, AutoOptions{
		Validate: validMarkup,
		Debug:    DebugSink{Dir: tmpDir},
	})
	if _, err := f.FetchListing(context.Background(), 1); err == nil {
		t.Fatal("expected error when both strategies fail")
	}

	// The body the failing strategy brought back must survive as a
	// debug artifact.
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("reading debug dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 debug artifact, got %d", len(entries))
	}
	data, _ := os.ReadFile(filepath.Join(tmpDir, entries[0].Name()))
	if !strings.Contains(string(data), "blocked by firewall") {
		t.Error("debug artifact should hold the failing response body")
	}
}

func TestAutoFetcherWithoutFallback(t *testing.T) {
	primary := &stubStrategy{name: "requests", err: errors.New("timeout")}

	f := NewAutoFetcher(primary, nil, AutoOptions{})
	if _, err := f.FetchListing(context.Background(), 1); err == nil {
		t.Fatal("expected primary failure to surface")
	}
}

func TestAutoFetcherDetailFallback(t *testing.T) {
	primary := &stubStrategy{name: "requests", err: errors.New("403")}
	fallback := &stubStrategy{name: "browser", markup: "<html>detalle</html>"}

	f := NewAutoFetcher(primary, fallback, AutoOptions{})
	markup, err := f.FetchDetail(context.Background(), "https://example.org/detalle")
	if err != nil {
		t.Fatalf("expected fallback detail success, got %v", err)
	}
	if markup != "<html>detalle</html>" {
		t.Errorf("unexpected markup: %q", markup)
	}
	if fallback.details != 1 {
		t.Errorf("expected 1 fallback detail fetch, got %d", fallback.details)
	}
}

func TestDebugSinkDisabled(t *testing.T) {
	var sink DebugSink
	path, err := sink.Save("listing", "<html></html>")
	if err != nil {
		t.Fatalf("disabled sink must not error: %v", err)
	}
	if path != "" {
		t.Errorf("disabled sink must not write, got %q", path)
	}
}
