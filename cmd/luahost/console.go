package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dshills/luahost/internal/debugger"
	"github.com/dshills/luahost/internal/events"
	"github.com/dshills/luahost/internal/scheduler"
	"github.com/dshills/luahost/internal/session"
)

// consoleAliases are the short debugger commands accepted at the console.
var consoleAliases = map[string]debugger.Command{
	"c": debugger.Continue,
	"n": debugger.StepOver,
	"s": debugger.StepInto,
	"o": debugger.StepOut,
	"q": debugger.Abort,
	"r": debugger.RunToPosition,
}

// console renders session events on a terminal and feeds it input lines.
type console struct {
	sess   *session.Session
	out    io.Writer
	errOut io.Writer
	lines  <-chan string
}

func newConsole(sess *session.Session, out, errOut io.Writer, lines <-chan string) *console {
	mu := &sync.Mutex{}
	return &console{
		sess:   sess,
		out:    &lockedWriter{mu: mu, w: out},
		errOut: &lockedWriter{mu: mu, w: errOut},
		lines:  lines,
	}
}

// lockedWriter serializes writes from the event pump and prompt goroutines.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// pump renders events until the session closes.
func (c *console) pump(ctx context.Context) {
	for {
		ev, err := c.sess.NextAsyncEvent(ctx)
		if err != nil {
			return
		}
		c.render(ctx, ev)
	}
}

func (c *console) render(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindOutput:
		w := c.out
		if ev.Output.Stream == events.StreamStderr {
			w = c.errOut
		}
		fmt.Fprint(w, ev.Output.Text)

	case events.KindException:
		if ev.Exception.CallSite != "" {
			fmt.Fprintf(c.errOut, "%s: %s\n", ev.Exception.CallSite, ev.Exception.Message)
		} else {
			fmt.Fprintf(c.errOut, "error: %s\n", ev.Exception.Message)
		}

	case events.KindBreakpointHit:
		if !ev.BreakpointHit.Suspend {
			fmt.Fprintf(c.errOut, "breakpoint %d hit at %s:%d\n", ev.BreakpointHit.ID, ev.BreakpointHit.File, ev.BreakpointHit.Line)
		}

	case events.KindDebugPrompt:
		dp := ev.DebugPrompt
		fmt.Fprintf(c.errOut, "[%s] %s:%d\n", dp.Reason, dp.File, dp.Line)
		for _, f := range dp.Stack {
			fmt.Fprintf(c.errOut, "  #%d %s at %s:%d\n", f.Depth, f.Function, f.File, f.Line)
		}
		go c.debugPrompt(ctx)

	case events.KindReadLine:
		if ev.Input.Prompt != "" {
			fmt.Fprint(c.out, ev.Input.Prompt)
		}
		go c.forwardLines(ctx, scheduler.StateReadLine)

	case events.KindSubprocessInput:
		go c.forwardLines(ctx, scheduler.StateSubprocessInput)
	}
}

// forwardLines sends stdin lines while the session is in state st. End of
// input interrupts the waiting script.
func (c *console) forwardLines(ctx context.Context, st scheduler.ExecutionState) {
	for c.sess.State() == st {
		line, ok := <-c.lines
		if !ok {
			c.sess.Interrupt()
			return
		}
		if err := c.sess.SendLine(ctx, line); err != nil {
			return
		}
		if st == scheduler.StateReadLine {
			return
		}
	}
}

// debugPrompt reads debugger commands until one resumes the script. Lines
// that are not commands are evaluated in the suspended frame.
func (c *console) debugPrompt(ctx context.Context) {
	for {
		fmt.Fprint(c.errOut, "(debug) ")
		line, ok := <-c.lines
		if !ok {
			_, _ = c.sess.SendDebugCommand(ctx, debugger.Abort, debugger.Position{})
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, target, isCmd, err := parseConsoleCommand(line)
		if err != nil {
			fmt.Fprintln(c.errOut, err)
			continue
		}
		if isCmd {
			accepted, err := c.sess.SendDebugCommand(ctx, cmd, target)
			if err != nil || accepted {
				return
			}
			fmt.Fprintf(c.errOut, "%s not accepted\n", cmd)
			continue
		}

		res, err := c.sess.Evaluate(ctx, line)
		if errors.Is(err, session.ErrClosed) {
			return
		}
		if err == nil {
			fmt.Fprintln(c.out, strings.Join(res.Values, "\t"))
		}
	}
}

// parseConsoleCommand recognizes "name [FILE:LINE]" where name is a
// debugger command or one of its aliases.
func parseConsoleCommand(line string) (debugger.Command, debugger.Position, bool, error) {
	fields := strings.Fields(line)
	cmd, ok := consoleAliases[fields[0]]
	if !ok {
		var err error
		if cmd, err = debugger.ParseCommand(fields[0]); err != nil {
			return 0, debugger.Position{}, false, nil
		}
	}
	if cmd != debugger.RunToPosition {
		if len(fields) > 1 {
			return 0, debugger.Position{}, false, nil
		}
		return cmd, debugger.Position{}, true, nil
	}
	if len(fields) != 2 {
		return 0, debugger.Position{}, false, fmt.Errorf("%s needs FILE:LINE", cmd)
	}
	pos, err := parsePosition(fields[1])
	if err != nil {
		return 0, debugger.Position{}, false, err
	}
	return cmd, pos, true, nil
}
