package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	finishTimeout  = 20 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// Realization 2 exits non-zero; the rest succeed.
const ensembleYAML = `
size: 4
runpath: realization-%d/iter-%d
target: case_<IENS>
job_name: e2e
forward_model: ["sh", "-c", "echo member <IENS>; exit <CODE>"]
keywords:
  0: {CODE: "0"}
  1: {CODE: "0"}
  2: {CODE: "1"}
  3: {CODE: "0"}
`

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
	root   string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "ensemble-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "ensemble")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/ensemble")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func startServer(t *testing.T, binary string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dir := t.TempDir()
	root := filepath.Join(dir, "runs")
	ensembleFile := filepath.Join(dir, "ensemble.yaml")
	if err := os.WriteFile(ensembleFile, []byte(ensembleYAML+"root: "+root+"\n"), 0o644); err != nil {
		t.Fatalf("write ensemble file: %v", err)
	}

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"ENSEMBLE_LISTEN_ADDR="+addr,
		"ENSEMBLE_DB_PATH="+filepath.Join(dir, "test.db"),
		"ENSEMBLE_FILE="+ensembleFile,
		"ENSEMBLE_LOG_LEVEL=info",
		"ENSEMBLE_DRIVER=local",
		"ENSEMBLE_MAX_RUNNING=2",
		"ENSEMBLE_POLL_INTERVAL=100ms",
		"ENSEMBLE_NATS_URL=",
		"ENSEMBLE_SENTRY_DSN=",
		"ENSEMBLE_OTLP_ENDPOINT=",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
		root:   root,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

// waitForEnsemble polls /v1/queue until every realization has an outcome.
func waitForEnsemble(t *testing.T, sp *serverProc) map[string]any {
	t.Helper()
	deadline := time.Now().Add(finishTimeout)
	var q map[string]any
	for time.Now().Before(deadline) {
		getJSON(t, sp.url+"/v1/queue", &q)
		if q["success"].(float64)+q["failed"].(float64) == 4 && q["is_running"] == false {
			return q
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("ensemble did not finish within %v (last %v)\nstdout:\n%s", finishTimeout, q, sp.stdout.String())
	return nil
}

func TestEnsembleRunsToCompletion(t *testing.T) {
	sp := startServer(t, getBinary(t))

	q := waitForEnsemble(t, sp)
	if q["success"] != float64(3) || q["failed"] != float64(1) {
		t.Errorf("queue = %v, want 3 succeeded and 1 failed", q)
	}

	var failed map[string]any
	if status := getJSON(t, sp.url+"/v1/realizations/2", &failed); status != 200 {
		t.Fatalf("GET /v1/realizations/2 status = %d", status)
	}
	if failed["state"] != "failed" || failed["target"] != "case_2" {
		t.Errorf("realization 2 = %v", failed)
	}

	out, err := os.ReadFile(filepath.Join(sp.root, "realization-0", "iter-0", "e2e-0.stdout"))
	if err != nil {
		t.Fatalf("read forward model output: %v", err)
	}
	if strings.TrimSpace(string(out)) != "member 0" {
		t.Errorf("stdout = %q, want %q", out, "member 0")
	}
}

func TestStatesReportFinished(t *testing.T) {
	sp := startServer(t, getBinary(t))
	waitForEnsemble(t, sp)

	deadline := time.Now().Add(2 * time.Second)
	var snap struct {
		States []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"states"`
		Finished int `json:"finished"`
	}
	for time.Now().Before(deadline) {
		getJSON(t, sp.url+"/v1/states", &snap)
		if snap.Finished == 4 {
			break
		}
		time.Sleep(pollInterval)
	}

	if len(snap.States) != 5 || snap.States[4].Name != "Finished" {
		t.Fatalf("states = %+v", snap.States)
	}
	if snap.Finished != 4 {
		t.Errorf("Finished = %d, want 4", snap.Finished)
	}
	if snap.States[3].Name != "Failed" || snap.States[3].Count != 1 {
		t.Errorf("Failed bucket = %+v, want 1", snap.States[3])
	}
}

func TestStateStreamEndsWithDone(t *testing.T) {
	sp := startServer(t, getBinary(t))

	resp, err := http.Get(sp.url + "/v1/states/stream")
	if err != nil {
		t.Fatalf("GET /v1/states/stream: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(body), "event: done") {
		t.Errorf("stream ended without done event:\n%s", body)
	}
}

func TestHistoryJournalsRun(t *testing.T) {
	sp := startServer(t, getBinary(t))
	waitForEnsemble(t, sp)

	deadline := time.Now().Add(2 * time.Second)
	var hist struct {
		Total        int              `json:"total"`
		Realizations []map[string]any `json:"realizations"`
	}
	for time.Now().Before(deadline) {
		getJSON(t, sp.url+"/v1/history", &hist)
		done := hist.Total == 4
		for _, r := range hist.Realizations {
			if r["state"] != "success" && r["state"] != "failed" {
				done = false
			}
		}
		if done {
			return
		}
		time.Sleep(pollInterval)
	}
	t.Errorf("history never caught up: %+v", hist)
}

func TestStructuredJSONLogs(t *testing.T) {
	sp := startServer(t, getBinary(t))
	waitForEnsemble(t, sp)

	scanner := bufio.NewScanner(strings.NewReader(sp.stdout.String()))
	found := false
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry["msg"] == "ensemble: starting" {
			found = true
			if id, ok := entry["run_id"].(string); !ok || len(id) != 26 {
				t.Errorf("run_id = %v, expected 26-char ULID", entry["run_id"])
			}
		}
	}
	if !found {
		t.Errorf("no structured startup log found\noutput:\n%s", sp.stdout.String())
	}
}
