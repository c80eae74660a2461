package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/relaydev/relay/internal/pipeline"
)

func refactorSetup(t *testing.T) (*Refactor, *fakeGit, *fakeCmd) {
	t.Helper()
	fake := newFakeGit()
	rc, h := testHub(t, fake)
	cmd := newFakeCmd()

	cfg := testConfig()
	cfg.Checks.Command = "golangci-lint run"
	cfg.Checks.FixCommand = "gofmt -w"

	return &Refactor{RC: rc, Cfg: cfg, Hub: h, Log: discard(), Cmd: cmd}, fake, cmd
}

func TestRefactorCleanChecks(t *testing.T) {
	r, _, cmd := refactorSetup(t)

	data, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if files := data["fixed_files"].([]string); len(files) != 0 {
		t.Errorf("fixed_files = %v", files)
	}
	if cmd.count("go test ./...") != 0 {
		t.Error("test gate ran without any fixes")
	}
}

func TestRefactorFixesOffendingFiles(t *testing.T) {
	r, _, cmd := refactorSetup(t)
	cmd.results["golangci-lint run"] = cmdResult{
		stdout: "store/cart.go:41:2: unused variable\nstore/cart.go:50:1: missing doc\napi/handler.go:9:3: shadowed err\n",
		exit:   1,
	}

	data, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	files := data["fixed_files"].([]string)
	if len(files) != 2 || files[0] != "store/cart.go" || files[1] != "api/handler.go" {
		t.Errorf("fixed_files = %v", files)
	}
	if cmd.count("gofmt -w store/cart.go") != 1 || cmd.count("gofmt -w api/handler.go") != 1 {
		t.Errorf("fix commands = %v", cmd.calls)
	}
	if cmd.count("go test ./...") != 1 {
		t.Errorf("test gate runs = %d, want 1", cmd.count("go test ./..."))
	}
	if data["reverted"] != false {
		t.Error("reverted should be false on a clean gate")
	}
}

func TestRefactorRevertsOnRegression(t *testing.T) {
	r, fake, cmd := refactorSetup(t)
	cmd.results["golangci-lint run"] = cmdResult{stdout: "store/cart.go:41:2: unused variable\n", exit: 1}

	// First gate run fails, second (after revert) passes.
	gateRuns := 0
	r.Cmd = runnerFunc(func(ctx context.Context, dir, command string) (string, string, int, error) {
		if command == "go test ./..." {
			gateRuns++
			if gateRuns == 1 {
				return "", "--- FAIL: TestCart\n", 1, nil
			}
			return "", "", 0, nil
		}
		return cmd.Run(ctx, dir, command)
	})

	data, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if data["reverted"] != true {
		t.Error("reverted should be true after a regression")
	}
	if files := data["fixed_files"].([]string); len(files) != 0 {
		t.Errorf("fixed_files = %v, want none after revert", files)
	}
	if fake.count("checkout -- store/cart.go") != 1 {
		t.Errorf("revert calls = %v", fake.calls)
	}
	if gateRuns != 2 {
		t.Errorf("gate runs = %d, want 2", gateRuns)
	}
}

func TestRefactorFatalWhenRevertDoesNotRestore(t *testing.T) {
	r, _, cmd := refactorSetup(t)
	cmd.results["golangci-lint run"] = cmdResult{stdout: "store/cart.go:41:2: unused variable\n", exit: 1}
	cmd.results["go test ./..."] = cmdResult{exit: 1}

	_, err := r.Execute(context.Background())
	if err == nil {
		t.Fatal("expected fatal error when the suite stays red after revert")
	}
	var intg *pipeline.IntegrityError
	if !errors.As(err, &intg) {
		t.Errorf("error type = %T, want *pipeline.IntegrityError", err)
	}
}

func TestRefactorNoChecksConfigured(t *testing.T) {
	r, _, cmd := refactorSetup(t)
	r.Cfg.Checks.Command = ""

	if _, err := r.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(cmd.calls) != 0 {
		t.Errorf("commands run = %v, want none", cmd.calls)
	}
}

func TestOffendingFiles(t *testing.T) {
	out := "./store/cart.go:41:2: x\nstore/cart.go:50: y\nnot a finding line\napi/h.go:9:1: z\n"
	files := offendingFiles(out)
	if len(files) != 2 || files[0] != "store/cart.go" || files[1] != "api/h.go" {
		t.Errorf("files = %v", files)
	}
}

// runnerFunc adapts a function to the command.Runner interface.
type runnerFunc func(ctx context.Context, dir, command string) (string, string, int, error)

func (f runnerFunc) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	return f(ctx, dir, command)
}
