package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/systematics/examclient/internal/drafts"
)

// GetCmd sends an authenticated GET request.
type GetCmd struct {
	Path string `arg:"" help:"API path, e.g. /api/exams"`
}

func (g *GetCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return get(ctx, a, g.Path)
}

func get(ctx context.Context, a *app, path string) error {
	var body json.RawMessage
	if err := a.client.GetJSON(ctx, path, &body); err != nil {
		return describeError(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}

// AvatarCmd manages the profile avatar.
type AvatarCmd struct {
	Upload   AvatarUploadCmd   `cmd:"" help:"Upload a new avatar image"`
	Download AvatarDownloadCmd `cmd:"" help:"Download the current avatar image"`
}

// AvatarUploadCmd uploads a new avatar.
type AvatarUploadCmd struct {
	File string `arg:"" type:"existingfile" help:"Image file to upload"`
}

func (u *AvatarUploadCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	url, err := a.client.UploadAvatar(ctx, u.File)
	if err != nil {
		return fmt.Errorf("failed to upload avatar: %w", describeError(err))
	}

	fmt.Printf("Avatar updated: %s\n", url)
	return nil
}

// AvatarDownloadCmd saves the current avatar to a file.
type AvatarDownloadCmd struct {
	Output string `short:"o" help:"Destination file" default:"avatar.png" type:"path"`
}

func (d *AvatarDownloadCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	avatar := a.session.Snapshot().Identity.AvatarURL
	if avatar == "" {
		return fmt.Errorf("no avatar set")
	}

	url, err := a.client.URL(avatar)
	if err != nil {
		return err
	}

	if err := a.assets.Download(ctx, url, d.Output); err != nil {
		return err
	}

	fmt.Printf("Saved %s\n", d.Output)
	return nil
}

// DraftCmd manages exam drafts stored on this device.
type DraftCmd struct {
	Save    DraftSaveCmd    `cmd:"" help:"Save answers for an attempt"`
	Show    DraftShowCmd    `cmd:"" help:"Show saved answers for an attempt"`
	Discard DraftDiscardCmd `cmd:"" help:"Remove saved answers for an attempt"`
	List    DraftListCmd    `cmd:"" help:"List keys removed on logout"`
}

// DraftSaveCmd saves answers.
type DraftSaveCmd struct {
	Attempt string            `arg:"" help:"Attempt ID (UUID)"`
	Answer  map[string]string `short:"a" help:"Answer as question=value, repeatable"`
}

func (s *DraftSaveCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.session.Authenticated() {
		return fmt.Errorf("sign in before saving drafts")
	}

	id, err := drafts.ParseAttemptID(s.Attempt)
	if err != nil {
		return err
	}

	started, err := a.drafts.Start(ctx, id)
	if err != nil {
		return err
	}

	answers := make(map[string]any, len(s.Answer))
	for q, v := range s.Answer {
		answers[q] = v
	}

	if err := a.drafts.Save(ctx, id, answers); err != nil {
		return err
	}

	fmt.Printf("Saved %d answers (attempt started %s)\n", len(answers), started.Local().Format("15:04:05"))
	return nil
}

// DraftShowCmd prints saved answers.
type DraftShowCmd struct {
	Attempt string `arg:"" help:"Attempt ID (UUID)"`
}

func (s *DraftShowCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := drafts.ParseAttemptID(s.Attempt)
	if err != nil {
		return err
	}

	d, err := a.drafts.Load(ctx, id)
	if err != nil {
		return err
	}

	questions := make([]string, 0, len(d.Answers))
	for q := range d.Answers {
		questions = append(questions, q)
	}
	sort.Strings(questions)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUESTION\tANSWER")
	for _, q := range questions {
		fmt.Fprintf(w, "%s\t%v\n", q, d.Answers[q])
	}
	return w.Flush()
}

// DraftDiscardCmd removes saved answers.
type DraftDiscardCmd struct {
	Attempt string `arg:"" help:"Attempt ID (UUID)"`
}

func (s *DraftDiscardCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := drafts.ParseAttemptID(s.Attempt)
	if err != nil {
		return err
	}

	if err := a.drafts.Discard(ctx, id); err != nil {
		return err
	}

	fmt.Println("Draft discarded.")
	return nil
}

// DraftListCmd lists the registered ephemeral keys.
type DraftListCmd struct{}

func (l *DraftListCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.Close()

	keys := a.session.Ephemeral().Keys()
	if len(keys) == 0 {
		fmt.Println("No drafts saved.")
		return nil
	}

	fmt.Println(strings.Join(keys, "\n"))
	return nil
}
