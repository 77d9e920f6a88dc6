package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/systematics/examclient/internal/logger"
	"github.com/systematics/examclient/internal/router"
)

const homeRoute = "/dashboard"

// LoginCmd exchanges credentials for a session.
type LoginCmd struct {
	Email    string `help:"Account email" required:"" env:"EXAMCLIENT_EMAIL"`
	Password string `help:"Account password" required:"" env:"EXAMCLIENT_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.client.Login(ctx, l.Email, l.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", describeError(err))
	}

	if _, err := a.router.Push(ctx, homeRoute); err != nil {
		return err
	}

	fmt.Printf("Signed in as %s (%s)\n", resp.FullName, resp.Role)
	fmt.Println(a.router.Title())
	return nil
}

// LogoutCmd ends the session.
type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.session.Authenticated() {
		fmt.Println("Not signed in.")
		return nil
	}

	if err := a.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Println("Signed out.")
	return nil
}

// WhoamiCmd prints the current session.
type WhoamiCmd struct{}

func (w *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	snap := a.session.Snapshot()
	if !snap.Authenticated() {
		fmt.Println("Not signed in.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", snap.Identity.FullName)
	fmt.Fprintf(tw, "Role:\t%s\n", snap.Role)
	if snap.Identity.Major != nil {
		fmt.Fprintf(tw, "Major:\t%s\n", snap.Identity.Major.Name)
	}
	if snap.Identity.AvatarURL != "" {
		fmt.Fprintf(tw, "Avatar:\t%s\n", snap.Identity.AvatarURL)
	}
	fmt.Fprintf(tw, "Token:\t%s\n", logger.Fingerprint(snap.Token))
	if !snap.ExpiresAt.IsZero() {
		fmt.Fprintf(tw, "Expires:\t%s (%s)\n", snap.ExpiresAt.Local().Format(time.RFC3339), time.Until(snap.ExpiresAt).Round(time.Second))
	}
	fmt.Fprintf(tw, "Idle timeout:\t%s\n", a.session.Idle().Timeout())

	return tw.Flush()
}

// NavigateCmd runs a navigation through the route guard.
type NavigateCmd struct {
	Path string `arg:"" help:"Route path, e.g. /exams or /courses/12/exams"`
}

func (n *NavigateCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return navigate(ctx, a, n.Path)
}

func navigate(ctx context.Context, a *app, path string) error {
	from := a.router.Current()

	m, err := a.router.Push(ctx, path)
	switch {
	case errors.Is(err, router.ErrNavigationDenied):
		fmt.Printf("Navigation to %s denied, staying on %s\n", path, from)
		return nil
	case err != nil:
		return err
	}

	if m.Path != path {
		fmt.Printf("Redirected from %s to %s\n", path, m.Path)
	}
	fmt.Printf("%s\t%s\n", m.Path, a.router.Title())
	return nil
}
