package cli

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pfrederiksen/seia-monitor/internal/project"
	"github.com/pfrederiksen/seia-monitor/internal/runner"
)

const listingPage = `<html><body><table class="tabla_resultados"><thead><tr>
<th>Nombre</th><th>Titular</th><th>Región</th><th>Tipo</th><th>Fecha</th><th>Estado</th>
</tr></thead><tbody>
<tr><td><a href="https://seia.sea.gob.cl/expediente/expediente.php?id_expediente=100">Parque Solar Uno</a></td>
<td>Energía SpA</td><td>Coquimbo</td><td>DIA</td><td>01/06/2026</td><td>En Admisión</td></tr>
</tbody></table></body></html>`

func TestCycleExitCode(t *testing.T) {
	quiet := &runner.Result{Changes: &project.ChangeSet{}}
	if got := cycleExitCode(quiet); got != ExitSuccess {
		t.Errorf("quiet cycle exit code = %d, want %d", got, ExitSuccess)
	}

	relevant := &runner.Result{Changes: &project.ChangeSet{
		Relevant: []*project.StateChange{{Identifier: "registry_100"}},
	}}
	if got := cycleExitCode(relevant); got != ExitRelevantChanges {
		t.Errorf("relevant cycle exit code = %d, want %d", got, ExitRelevantChanges)
	}
}

// executeCycle must hand control back to Execute instead of exiting the
// process, so the deferred store and fetcher closes run.
func TestExecuteCycleReturns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "seia-monitor.toml")
	configBody := `
[scrape]
base_url = "` + server.URL + `"
mode = "requests"
max_pages = 1
page_delay_seconds = 0.01

[storage]
database_path = "` + filepath.Join(dir, "monitor.db") + `"
debug_dir = "` + filepath.Join(dir, "debug") + `"
`
	if err := os.WriteFile(configPath, []byte(configBody), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	origConfig, origFormat, origDryRun := flagConfig, flagFormat, flagDryRun
	origExit := exitCode
	t.Cleanup(func() {
		flagConfig, flagFormat, flagDryRun = origConfig, origFormat, origDryRun
		exitCode = origExit
	})
	flagConfig = configPath
	flagFormat = "json"
	flagDryRun = true

	if err := executeCycle(false); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if exitCode != ExitSuccess {
		t.Errorf("exit code = %d, want %d", exitCode, ExitSuccess)
	}
}

func TestWriteStatusTextShowsMode(t *testing.T) {
	tests := []struct {
		name   string
		status *StatusResult
		want   string
	}{
		{
			"bootstrap progress",
			&StatusResult{Mode: "bootstrap", StableRuns: 1, StableGoal: 2},
			"Mode: bootstrap (1/2 stable runs)",
		},
		{
			"quarantine hint",
			&StatusResult{Mode: "quarantine"},
			"baseline frozen",
		},
		{
			"normal",
			&StatusResult{Mode: "normal"},
			"Mode: normal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			if err := writeStatusText(&b, tt.status); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if !strings.Contains(b.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, b.String())
			}
		})
	}
}
