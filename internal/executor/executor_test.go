package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stewardworks/steward/internal/task"
	"github.com/stewardworks/steward/internal/tools"
	"github.com/stewardworks/steward/internal/workspace"
)

// stubTool scripts per-call behavior and records the arguments of
// every invocation.
type stubTool struct {
	name   string
	calls  int
	argLog []map[string]interface{}
	fn     func(call int, args map[string]interface{}) (*tools.Raw, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}
func (t *stubTool) Meta() tools.Meta { return tools.Meta{Usage: t.name, Risk: tools.RiskLow} }

func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Raw, error) {
	t.calls++
	snapshot := make(map[string]interface{}, len(args))
	for k, v := range args {
		snapshot[k] = v
	}
	t.argLog = append(t.argLog, snapshot)
	return t.fn(t.calls, args)
}

func fastOpts() Options {
	return Options{
		MaxRetries:     3,
		Backoff:        time.Millisecond,
		BackoffCap:     4 * time.Millisecond,
		DefaultTimeout: 5 * time.Second,
	}
}

func newTestExecutor(t *testing.T, stubs ...*stubTool) (*Executor, string) {
	t.Helper()
	ws := t.TempDir()
	reg := tools.NewRegistry(workspace.New(ws))
	for _, s := range stubs {
		reg.Register(s)
	}
	return New(reg, fastOpts()), ws
}

func TestSuccessComesFromProtocolNotOutputText(t *testing.T) {
	stub := &stubTool{name: "grumbler", fn: func(int, map[string]interface{}) (*tools.Raw, error) {
		// Output full of failure words, but the adapter says ok.
		return &tools.Raw{Output: "error error error", ExitCode: 0}, nil
	}}
	e, _ := newTestExecutor(t, stub)

	res := e.Execute(context.Background(), task.Action{Tool: "grumbler"}, task.NewMemory())
	if !res.Success {
		t.Fatal("adapter said ok; Success must be true regardless of output text")
	}
	if res.Meta.Status != task.FlagFailed {
		t.Errorf("status heuristic should still read the markers, got %s", res.Meta.Status)
	}
	if res.Error != "" {
		t.Errorf("successful result must carry no error, got %q", res.Error)
	}
}

func TestFailureDespiteCheeryOutput(t *testing.T) {
	stub := &stubTool{name: "liar", fn: func(int, map[string]interface{}) (*tools.Raw, error) {
		return &tools.Raw{Output: "completed successfully", ExitCode: 0}, errors.New("wire dropped mid-flight")
	}}
	e, _ := newTestExecutor(t, stub)

	res := e.Execute(context.Background(), task.Action{Tool: "liar"}, task.NewMemory())
	if res.Success {
		t.Fatal("adapter returned an error; Success must be false")
	}
	if res.Error == "" {
		t.Error("failed result must carry an error")
	}
	if res.Meta.Attempts != 3 {
		t.Errorf("transient failure should use the budget, got %d attempts", res.Meta.Attempts)
	}
}

func TestTransientRetriesIdenticalAction(t *testing.T) {
	stub := &stubTool{name: "flaky", fn: func(call int, _ map[string]interface{}) (*tools.Raw, error) {
		if call < 3 {
			return &tools.Raw{ExitCode: 1}, errors.New("connection reset by peer")
		}
		return &tools.Raw{Output: "finally"}, nil
	}}
	e, _ := newTestExecutor(t, stub)

	params := map[string]interface{}{"endpoint": "https://api.example.com", "mode": "sync"}
	res := e.Execute(context.Background(), task.Action{Tool: "flaky", Parameters: params}, task.NewMemory())

	if !res.Success || res.Meta.Attempts != 3 || stub.calls != 3 {
		t.Fatalf("expected success on attempt 3, got success=%v attempts=%d calls=%d",
			res.Success, res.Meta.Attempts, stub.calls)
	}
	for i, got := range stub.argLog {
		if !reflect.DeepEqual(got, params) {
			t.Errorf("attempt %d mutated the action parameters: %v", i+1, got)
		}
	}
}

func TestPermissionDeniedStopsImmediately(t *testing.T) {
	stub := &stubTool{name: "locked", fn: func(int, map[string]interface{}) (*tools.Raw, error) {
		return &tools.Raw{ExitCode: 1}, errors.New("open /etc/shadow: permission denied")
	}}
	e, _ := newTestExecutor(t, stub)

	res := e.Execute(context.Background(), task.Action{Tool: "locked"}, task.NewMemory())
	if stub.calls != 1 {
		t.Fatalf("permission denial must not retry, got %d calls", stub.calls)
	}
	if res.Success || res.Meta.FailureKind != task.FailPermissionDenied || res.Meta.Attempts != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRetryBudgetIsNeverExceeded(t *testing.T) {
	stub := &stubTool{name: "doomed", fn: func(int, map[string]interface{}) (*tools.Raw, error) {
		return &tools.Raw{ExitCode: 1}, errors.New("temporarily unavailable")
	}}
	e, _ := newTestExecutor(t, stub)

	res := e.Execute(context.Background(), task.Action{Tool: "doomed"}, task.NewMemory())
	if stub.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", stub.calls)
	}
	if res.Success || res.Meta.Attempts != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Error == "" {
		t.Error("exhausted result must carry the last error")
	}
}

func TestMissingResourceRecoversFromPathHistory(t *testing.T) {
	e, ws := newTestExecutor(t)

	real := filepath.Join(ws, "archive", "report.csv")
	if err := os.MkdirAll(filepath.Dir(real), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(real, []byte("q1,q2"), 0644); err != nil {
		t.Fatal(err)
	}

	mem := task.NewMemory()
	mem.Observe("archived earlier to "+real, []string{real}, nil)

	res := e.Execute(context.Background(), task.Action{
		Tool:       "read_file",
		Parameters: map[string]interface{}{"path": filepath.Join(ws, "report.csv")},
	}, mem)

	if !res.Success {
		t.Fatalf("expected recovery via path history, got error %q", res.Error)
	}
	if res.Meta.Attempts != 2 {
		t.Errorf("expected recovery on attempt 2, got %d", res.Meta.Attempts)
	}
	if res.Output != "q1,q2" {
		t.Errorf("wrong file read: %q", res.Output)
	}
}

func TestProbeDiscoversRelocatedFile(t *testing.T) {
	e, ws := newTestExecutor(t)

	real := filepath.Join(ws, "sub", "notes.txt")
	if err := os.MkdirAll(filepath.Dir(real), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(real, []byte("remember the milk"), 0644); err != nil {
		t.Fatal(err)
	}

	// No history: the probe has to find it.
	mem := task.NewMemory()
	res := e.Execute(context.Background(), task.Action{
		Tool:       "read_file",
		Parameters: map[string]interface{}{"path": filepath.Join(ws, "notes.txt")},
	}, mem)

	if !res.Success {
		t.Fatalf("expected probe to locate the file, got error %q", res.Error)
	}
	if res.Output != "remember the milk" {
		t.Errorf("wrong content: %q", res.Output)
	}
}

func TestShellCommandGetsPathPatched(t *testing.T) {
	e, ws := newTestExecutor(t)

	real := filepath.Join(ws, "data", "input.txt")
	if err := os.MkdirAll(filepath.Dir(real), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(real, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	mem := task.NewMemory()
	mem.Observe("wrote "+real, []string{real}, nil)

	wrong := filepath.Join(ws, "input.txt")
	res := e.Execute(context.Background(), task.Action{
		Tool:       "run_shell",
		Parameters: map[string]interface{}{"command": "cat " + wrong},
	}, mem)

	if !res.Success {
		t.Fatalf("expected command patching to recover, got error %q", res.Error)
	}
	if !strings.Contains(res.Output, "payload") {
		t.Errorf("patched command read wrong file: %q", res.Output)
	}
}

func TestFailedAttemptsStillFeedContext(t *testing.T) {
	stub := &stubTool{name: "chatty", fn: func(call int, _ map[string]interface{}) (*tools.Raw, error) {
		if call == 1 {
			return &tools.Raw{Output: "staged /data/stage/one.txt", ExitCode: 1},
				errors.New("temporarily unavailable")
		}
		return &tools.Raw{Output: "moved to /data/stage/two.txt"}, nil
	}}
	e, _ := newTestExecutor(t, stub)

	mem := task.NewMemory()
	res := e.Execute(context.Background(), task.Action{Tool: "chatty"}, mem)
	if !res.Success {
		t.Fatalf("unexpected failure: %q", res.Error)
	}

	found := map[string]bool{}
	for _, p := range mem.Paths {
		found[p] = true
	}
	if !found["/data/stage/one.txt"] || !found["/data/stage/two.txt"] {
		t.Errorf("context missing paths from failed attempt: %v", mem.Paths)
	}
}

func TestTimeoutIsBoundedAndTransient(t *testing.T) {
	stub := &stubTool{name: "sleepy", fn: func(_ int, _ map[string]interface{}) (*tools.Raw, error) {
		return nil, context.DeadlineExceeded
	}}
	ws := t.TempDir()
	reg := tools.NewRegistry(workspace.New(ws))
	reg.Register(stub)
	e := New(reg, Options{
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		Timeouts:   map[string]time.Duration{"sleepy": 30 * time.Millisecond},
	})

	res := e.Execute(context.Background(), task.Action{Tool: "sleepy"}, task.NewMemory())
	if res.Success {
		t.Fatal("timeout must fail the attempt")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error should name the timeout: %q", res.Error)
	}
	if res.Meta.FailureKind != task.FailTransient {
		t.Errorf("timeouts classify as transient, got %s", res.Meta.FailureKind)
	}
	if stub.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", stub.calls)
	}
}

func TestUnknownToolFailsFastWithoutAttempts(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := e.Execute(context.Background(), task.Action{Tool: "warp_drive"}, task.NewMemory())
	if res.Success {
		t.Fatal("unknown tool cannot succeed")
	}
	if !strings.Contains(res.Error, "unknown tool") {
		t.Errorf("error should name the unknown tool: %q", res.Error)
	}
	if res.Meta.Attempts != 0 {
		t.Errorf("no attempts should be made, got %d", res.Meta.Attempts)
	}
}

func TestMetaPopulatedOnFailure(t *testing.T) {
	stub := &stubTool{name: "crasher", fn: func(int, map[string]interface{}) (*tools.Raw, error) {
		return &tools.Raw{Output: "wrote /data/x/output.log\nfatal: disk exploded", ExitCode: 3},
			fmt.Errorf("exit status 3")
	}}
	ws := t.TempDir()
	reg := tools.NewRegistry(workspace.New(ws))
	reg.Register(stub)
	e := New(reg, Options{MaxRetries: 1, Backoff: time.Millisecond})

	res := e.Execute(context.Background(), task.Action{Tool: "crasher"}, task.NewMemory())
	if res.Success {
		t.Fatal("expected failure")
	}
	if len(res.Meta.Paths) == 0 || res.Meta.Paths[0] != "/data/x/output.log" {
		t.Errorf("paths not mined from failed output: %v", res.Meta.Paths)
	}
	if res.Meta.ExitCode == nil || *res.Meta.ExitCode != 3 {
		t.Errorf("exit code not recorded: %v", res.Meta.ExitCode)
	}
	if res.Meta.Status != task.FlagFailed {
		t.Errorf("expected failed status flag, got %s", res.Meta.Status)
	}
}
