package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dshills/luahost/internal/debugger"
	"github.com/dshills/luahost/internal/session"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		spec    string
		want    debugger.Position
		wantErr bool
	}{
		{"main.lua:3", debugger.Position{File: "main.lua", Line: 3}, false},
		{"C:/x/main.lua:12", debugger.Position{File: "C:/x/main.lua", Line: 12}, false},
		{"main.lua", debugger.Position{}, true},
		{":3", debugger.Position{}, true},
		{"main.lua:0", debugger.Position{}, true},
		{"main.lua:x", debugger.Position{}, true},
	}
	for _, tt := range tests {
		got, err := parsePosition(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePosition(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parsePosition(%q) = %+v, want %+v", tt.spec, got, tt.want)
		}
	}
}

func TestParseConsoleCommand(t *testing.T) {
	tests := []struct {
		line    string
		cmd     debugger.Command
		isCmd   bool
		wantErr bool
	}{
		{"c", debugger.Continue, true, false},
		{"step-over", debugger.StepOver, true, false},
		{"STEP-INTO", debugger.StepInto, true, false},
		{"q", debugger.Abort, true, false},
		{"r a.lua:4", debugger.RunToPosition, true, false},
		{"r", 0, false, true},
		{"x + 1", 0, false, false},
		{"c 1", 0, false, false},
	}
	for _, tt := range tests {
		cmd, _, isCmd, err := parseConsoleCommand(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseConsoleCommand(%q) error = %v", tt.line, err)
			continue
		}
		if isCmd != tt.isCmd || (isCmd && cmd != tt.cmd) {
			t.Errorf("parseConsoleCommand(%q) = %v, %v; want %v, %v", tt.line, cmd, isCmd, tt.cmd, tt.isCmd)
		}
	}
}

func TestRunUsage(t *testing.T) {
	if code := run([]string{"luahost", "run"}); code != 2 {
		t.Errorf("run without a file = %d, want 2", code)
	}
}

func newConsoleSession(t *testing.T) (*session.Session, *console, *bytes.Buffer, *bytes.Buffer, chan string, chan struct{}) {
	t.Helper()
	opts := session.DefaultOptions()
	opts.Watch = false
	opts.PollInterval = 5 * time.Millisecond
	sess, err := session.New(opts)
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	var out, errOut bytes.Buffer
	lines := make(chan string)
	con := newConsole(sess, &out, &errOut, lines)
	done := make(chan struct{})
	go func() {
		defer close(done)
		con.pump(context.Background())
	}()
	return sess, con, &out, &errOut, lines, done
}

func TestConsoleOutputAndErrors(t *testing.T) {
	sess, _, out, errOut, _, done := newConsoleSession(t)

	if _, err := sess.SubmitCode(context.Background(), `print("hi")`); err != nil {
		t.Fatal(err)
	}
	_, _ = sess.SubmitCode(context.Background(), `error("nope")`)
	sess.Close()
	<-done

	if out.String() != "hi\n" {
		t.Errorf("stdout = %q, want hi", out.String())
	}
	if !strings.Contains(errOut.String(), "<console-2>:1: nope") {
		t.Errorf("stderr = %q, want exception", errOut.String())
	}
}

func TestConsoleDebugPrompt(t *testing.T) {
	sess, _, out, errOut, lines, done := newConsoleSession(t)

	if _, _, err := sess.AddOrModifyBreakpoint(1, debugger.Position{File: "<console-1>", Line: 2}, debugger.DefaultOptions()); err != nil {
		t.Fatal(err)
	}

	type outcome struct {
		values []string
		err    error
	}
	result := make(chan outcome, 1)
	go func() {
		res, err := sess.SubmitCode(context.Background(), "local x = 5\nx = x * 2\nreturn x")
		result <- outcome{res.Values, err}
	}()

	lines <- "x"
	lines <- "c"

	select {
	case o := <-result:
		if o.err != nil || len(o.values) != 1 || o.values[0] != "10" {
			t.Errorf("result = %v, %v; want 10", o.values, o.err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("script did not resume")
	}
	sess.Close()
	<-done

	if !strings.Contains(errOut.String(), "[breakpoint] <console-1>:2") {
		t.Errorf("stderr = %q, want debug prompt", errOut.String())
	}
	if out.String() != "5\n" {
		t.Errorf("stdout = %q, want evaluated 5", out.String())
	}
}

func TestConsoleReadLine(t *testing.T) {
	sess, _, out, _, lines, done := newConsoleSession(t)

	result := make(chan []string, 1)
	go func() {
		res, _ := sess.SubmitCode(context.Background(), `return readline("> ")`)
		result <- res.Values
	}()
	lines <- "typed"

	select {
	case v := <-result:
		if len(v) != 1 || v[0] != "typed" {
			t.Errorf("readline() = %v, want typed", v)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("read did not complete")
	}
	sess.Close()
	<-done

	if out.String() != "> " {
		t.Errorf("stdout = %q, want the prompt", out.String())
	}
}
