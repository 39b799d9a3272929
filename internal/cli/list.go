package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/locket/internal/store"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Decrypt bool
	Limit   int
}

type listResult struct {
	Events  []eventView `json:"events"`
	decrypt bool
}

func (r listResult) String() string {
	if len(r.Events) == 0 {
		return "No events."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	header := "ID\tDAY\tSTATUS\tASSET\tSIGNATURE"
	if r.decrypt {
		header += "\tVALUE"
	}
	fmt.Fprintln(tw, header)
	for _, e := range r.Events {
		asset := e.AssetID
		if asset == "" {
			asset = "-"
		}
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", e.ID, e.Day, e.Status, asset, shortHash(e.Signature))
		if r.decrypt {
			line += "\t" + renderValue(e)
		}
		fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func renderValue(e eventView) string {
	if e.Error != "" {
		return "!" + e.Error
	}
	buf, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Sprint(e.Value)
	}
	return string(buf)
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored events, newest first",
		Long: `List stored events, newest first. Dummy records are never shown.

With --decrypt every payload is opened with the key. A payload that fails
authentication is reported and the command exits non-zero.

Example:
  locket list
  locket list --decrypt --limit 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Decrypt, "decrypt", false, "decrypt and show event values")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many events (0 = all)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	loc, err := opts.Config.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid store location", err)
	}

	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	records, err := s.Events(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load events", err)
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	res := listResult{Events: make([]eventView, len(records)), decrypt: opts.Decrypt}
	var failed []string
	for i, r := range records {
		v := newEventView(r, loc)
		if opts.Decrypt {
			value, err := s.Decrypt(r)
			if err != nil {
				v.Error = err.Error()
				failed = append(failed, r.ID)
			} else {
				v.Value = value
			}
		}
		res.Events[i] = v
	}

	if err := opts.formatter(cmd).Success(res); err != nil {
		return err
	}
	if len(failed) > 0 {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d event(s) failed to decrypt: %s", len(failed), strings.Join(failed, ", ")))
	}
	return nil
}

type statusResult struct {
	Identity string      `json:"identity"`
	DataDir  string      `json:"dataDir"`
	Backend  string      `json:"backend"`
	Remote   string      `json:"remote,omitempty"`
	Stats    store.Stats `json:"stats"`
}

func (r statusResult) String() string {
	remote := r.Remote
	if remote == "" {
		remote = "offline"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Identity:\t%s\n", r.Identity)
	fmt.Fprintf(tw, "Data dir:\t%s\n", r.DataDir)
	fmt.Fprintf(tw, "Backend:\t%s\n", r.Backend)
	fmt.Fprintf(tw, "Control-plane:\t%s\n", remote)
	fmt.Fprintf(tw, "Events:\t%d (%d local, %d anchored)\n", r.Stats.Total-r.Stats.Dummies, r.Stats.Local, r.Stats.Anchored)
	fmt.Fprintf(tw, "Dummies:\t%d\n", r.Stats.Dummies)
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read stats", err)
	}
	return opts.formatter(cmd).Success(statusResult{
		Identity: s.Identity(),
		DataDir:  opts.Config.DataDir,
		Backend:  s.Backend(),
		Remote:   opts.Config.Anchor.URL,
		Stats:    stats,
	})
}
