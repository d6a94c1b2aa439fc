package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

type fakeRunner struct {
	calls  []string
	failAt int
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, _ io.Writer, _ io.Writer) error {
	f.calls = append(f.calls, fmt.Sprintf("%s %s", name, strings.Join(args, " ")))
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return errors.New("boom")
	}
	return nil
}

func TestRunHelp(t *testing.T) {
	fr := &fakeRunner{}
	var out, errOut bytes.Buffer
	code := run([]string{"--help"}, &out, &errOut, fr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if len(fr.calls) != 0 {
		t.Fatalf("expected no command invocations, got %d", len(fr.calls))
	}
}

func TestRunExecutesAllRequiredGates(t *testing.T) {
	fr := &fakeRunner{}
	var out, errOut bytes.Buffer
	code := run(nil, &out, &errOut, fr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%q", code, errOut.String())
	}
	if len(fr.calls) != len(requiredGateSteps) {
		t.Fatalf("expected %d calls, got %d", len(requiredGateSteps), len(fr.calls))
	}
	if !strings.Contains(out.String(), "all gates passed") {
		t.Fatalf("unexpected stdout: %q", out.String())
	}
}

func TestRunTortureStep(t *testing.T) {
	fr := &fakeRunner{}
	var out, errOut bytes.Buffer
	code := run([]string{"--torture", "--config=ci.yaml", "--report=out.json"}, &out, &errOut, fr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%q", code, errOut.String())
	}
	if len(fr.calls) != len(requiredGateSteps)+1 {
		t.Fatalf("expected %d calls, got %d", len(requiredGateSteps)+1, len(fr.calls))
	}
	want := "go run ./cmd/e32-torture run --report out.json --config ci.yaml"
	if got := fr.calls[len(fr.calls)-1]; got != want {
		t.Fatalf("torture step = %q, want %q", got, want)
	}
}

func TestRunTortureStepSeparateValues(t *testing.T) {
	fr := &fakeRunner{}
	var out, errOut bytes.Buffer
	code := run([]string{"--torture", "--report", "out.json"}, &out, &errOut, fr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%q", code, errOut.String())
	}
	want := "go run ./cmd/e32-torture run --report out.json"
	if got := fr.calls[len(fr.calls)-1]; got != want {
		t.Fatalf("torture step = %q, want %q", got, want)
	}
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	fr := &fakeRunner{failAt: 3}
	var out, errOut bytes.Buffer
	code := run([]string{"--torture"}, &out, &errOut, fr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if len(fr.calls) != 3 {
		t.Fatalf("expected to stop at failing gate, got %d calls", len(fr.calls))
	}
	if !strings.Contains(errOut.String(), "gate failed: race tests") {
		t.Fatalf("unexpected stderr: %q", errOut.String())
	}
}

func TestRunRejectsArguments(t *testing.T) {
	for _, args := range [][]string{{"--nope"}, {"--config=ci.yaml"}, {"--report", "torture-report.json"}, {"--torture", "extra"}, {"--config"}} {
		fr := &fakeRunner{}
		var out, errOut bytes.Buffer
		code := run(args, &out, &errOut, fr)
		if code != 2 {
			t.Fatalf("%v: expected exit 2, got %d", args, code)
		}
		if len(fr.calls) != 0 {
			t.Fatalf("%v: expected no command invocations, got %d", args, len(fr.calls))
		}
	}
}
