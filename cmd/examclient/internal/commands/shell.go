package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/systematics/examclient/internal/idle"
)

// ShellCmd runs an interactive prompt. Every input line counts as user
// activity for the idle timeout.
type ShellCmd struct{}

func (s *ShellCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return runShell(ctx, a, os.Stdin, os.Stdout)
}

func runShell(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	activity := make(chan idle.Activity, 1)
	if err := a.session.Idle().Attach(ctx, activity); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(out, "examclient shell, idle timeout %s. Type help for commands.\n", a.session.Idle().Timeout())

	for {
		fmt.Fprintf(out, "%s> ", a.router.Current())

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-a.expired:
			fmt.Fprintln(out, "\nSession ended after inactivity.")

		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}

			select {
			case activity <- idle.KeyPress:
			default:
			}

			done, err := dispatch(ctx, a, out, strings.Fields(line))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

func dispatch(ctx context.Context, a *app, out io.Writer, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "exit", "quit":
		return true, nil

	case "help":
		fmt.Fprintln(out, "commands: whoami, navigate <path>, get <path>, logout, exit")

	case "whoami":
		snap := a.session.Snapshot()
		if !snap.Authenticated() {
			fmt.Fprintln(out, "Not signed in.")
			return false, nil
		}
		fmt.Fprintf(out, "%s (%s), idle in %s\n", snap.Identity.FullName, snap.Role, a.session.Idle().Remaining().Round(time.Second))

	case "navigate", "nav":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: navigate <path>")
		}
		return false, navigate(ctx, a, args[1])

	case "get":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: get <path>")
		}
		return false, get(ctx, a, args[1])

	case "logout":
		if err := a.client.Logout(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Signed out.")

	default:
		return false, fmt.Errorf("unknown command %q", args[0])
	}

	return false, nil
}
