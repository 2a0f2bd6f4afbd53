package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dshills/luahost/internal/debugger"
	"github.com/dshills/luahost/internal/session"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a script on the console",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "break",
				Aliases: []string{"b"},
				Usage:   "suspend at `FILE:LINE` (repeatable)",
			},
		},
		Action: runFile,
	}
}

func runFile(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: luahost run [--break FILE:LINE] <file>", 2)
	}
	file := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	logger := newLogger(cfg)

	opts := session.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Watch = false
	sess, err := session.New(opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	for i, spec := range c.StringSlice("break") {
		pos, err := parsePosition(spec)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		if _, _, err := sess.AddOrModifyBreakpoint(i+1, pos, debugger.DefaultOptions()); err != nil {
			return cli.Exit(err.Error(), 2)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			sess.Interrupt()
		}
	}()

	con := newConsole(sess, os.Stdout, os.Stderr, readLines(os.Stdin))
	done := make(chan struct{})
	go func() {
		defer close(done)
		con.pump(c.Context)
	}()

	res, runErr := sess.RunFile(c.Context, file)
	_ = sess.Close()
	<-done

	switch {
	case runErr != nil:
		// Script errors were already printed from the exception event.
		return cli.Exit("", 1)
	case res.Interrupted:
		return cli.Exit("interrupted", 130)
	}
	return nil
}

// parsePosition parses FILE:LINE.
func parsePosition(spec string) (debugger.Position, error) {
	i := strings.LastIndex(spec, ":")
	if i <= 0 {
		return debugger.Position{}, fmt.Errorf("invalid position %q, want FILE:LINE", spec)
	}
	line, err := strconv.Atoi(spec[i+1:])
	if err != nil || line <= 0 {
		return debugger.Position{}, fmt.Errorf("invalid line in %q", spec)
	}
	return debugger.Position{File: spec[:i], Line: line}, nil
}

// readLines streams lines from r until EOF, then closes the channel.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
