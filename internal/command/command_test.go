package command

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeRunner returns canned results and can block until its context is done.
type fakeRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	block    bool

	lastDir     string
	lastCommand string
}

func (f *fakeRunner) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	f.lastDir = dir
	f.lastCommand = command
	if f.block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return f.stdout, f.stderr, f.exitCode, f.err
}

func TestRunSuccess(t *testing.T) {
	fake := &fakeRunner{stdout: "ok\n"}
	res, err := Run(context.Background(), fake, "/work", "go build ./...", time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passed() {
		t.Errorf("Passed() = false for exit 0: %+v", res)
	}
	if res.Stdout != "ok\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if fake.lastDir != "/work" || fake.lastCommand != "go build ./..." {
		t.Errorf("runner got dir=%q command=%q", fake.lastDir, fake.lastCommand)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	fake := &fakeRunner{stderr: "FAIL\n", exitCode: 2}
	res, err := Run(context.Background(), fake, ".", "go test ./...", time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed() {
		t.Error("Passed() = true for exit 2")
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
}

func TestRunTimeoutIsResultNotError(t *testing.T) {
	fake := &fakeRunner{block: true}
	res, err := Run(context.Background(), fake, ".", "sleep 60", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false")
	}
	if res.Passed() {
		t.Error("Passed() = true for timed-out command")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}

func TestRunZeroTimeoutMeansNoLimit(t *testing.T) {
	fake := &fakeRunner{stdout: "done"}
	res, err := Run(context.Background(), fake, ".", "make", 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TimedOut {
		t.Error("TimedOut = true with no deadline")
	}
}

func TestRunUnrunnableCommand(t *testing.T) {
	fake := &fakeRunner{err: fmt.Errorf("exec: not found")}
	if _, err := Run(context.Background(), fake, ".", "nonesuch", time.Second); err == nil {
		t.Fatal("expected error for unrunnable command")
	}
}

func TestExecRunner(t *testing.T) {
	r := &ExecRunner{}
	stdout, _, code, err := r.Run(context.Background(), t.TempDir(), "echo hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 || stdout != "hello\n" {
		t.Errorf("got code=%d stdout=%q", code, stdout)
	}

	_, _, code, err = r.Run(context.Background(), t.TempDir(), "exit 3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}
