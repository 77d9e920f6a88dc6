package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/systematics/examclient/cmd/examclient/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login    commands.LoginCmd    `cmd:"" help:"Sign in and start a session"`
		Logout   commands.LogoutCmd   `cmd:"" help:"End the session and remove local session data"`
		Whoami   commands.WhoamiCmd   `cmd:"" help:"Show the current session"`
		Navigate commands.NavigateCmd `cmd:"" help:"Navigate to a route through the route guard"`
		Get      commands.GetCmd      `cmd:"" help:"Send an authenticated GET request to the API"`
		Avatar   commands.AvatarCmd   `cmd:"" help:"Manage the profile avatar"`
		Draft    commands.DraftCmd    `cmd:"" help:"Manage locally saved exam drafts"`
		Shell    commands.ShellCmd    `cmd:"" help:"Start an interactive session with idle timeout"`

		Debug   bool   `help:"Enable debug mode."`
		Config  string `help:"Path to YAML config file" type:"path" env:"EXAMCLIENT_CONFIG"`
		Server  string `help:"API server URL (overrides config)" env:"EXAMCLIENT_SERVER"`
		Store   string `help:"Session store type: memory, file or postgres (overrides config)" env:"EXAMCLIENT_STORE"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("examclient"),
		kong.Description("Exam platform client"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:     cli.Debug,
		Version:   version,
		Config:    cli.Config,
		Server:    cli.Server,
		StoreType: cli.Store,
	})
	cmd.FatalIfErrorf(err)
}
