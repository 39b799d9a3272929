package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

type deleteResult struct {
	Day     string `json:"day"`
	Deleted int    `json:"deleted"`
}

func (r deleteResult) String() string {
	return fmt.Sprintf("Deleted %d event(s) for %s. Anchored hashes remain on the ledger.", r.Deleted, r.Day)
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <day>",
		Short: "Delete the local events of one calendar day",
		Long: `Delete every local event of the calendar day containing <day>, in the
configured store location. <day> is YYYY-MM-DD, unix ms or RFC 3339.

Only local copies are removed: hashes already anchored stay on the ledger.

Example:
  locket delete 2024-03-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], cmd)
		},
	}
}

func runDelete(opts *RootOptions, day string, cmd *cobra.Command) error {
	loc, err := opts.Config.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid store location", err)
	}
	ts, err := parseTimestamp(day, loc)
	if err != nil || ts == 0 {
		return WrapExitError(ExitCommandError, "invalid day", err)
	}

	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	n, err := s.DeleteByTimestamp(cmd.Context(), ts)
	if err != nil {
		return WrapExitError(ExitFailure, "delete failed", err)
	}
	return opts.formatter(cmd).Success(deleteResult{Day: formatDay(ts, loc), Deleted: n})
}

// NukeOptions holds flags for the nuke command.
type NukeOptions struct {
	*RootOptions
	Yes bool
	Key bool
}

type nukeResult struct {
	KeyRemoved bool `json:"keyRemoved"`
}

func (r nukeResult) String() string {
	if r.KeyRemoved {
		return "All local events and the key were wiped."
	}
	return "All local events were wiped."
}

// NewNukeCommand creates the nuke command.
func NewNukeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NukeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "nuke",
		Short: "Delete every local event",
		Long: `Delete every local event, dummies included. With --key the key file is
wiped as well, which makes any surviving copy of the ledger unreadable.

Anchored hashes stay on the ledger.

Example:
  locket nuke --yes
  locket nuke --yes --key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNuke(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm the wipe")
	cmd.Flags().BoolVar(&opts.Key, "key", false, "also wipe the key file")

	return cmd
}

func runNuke(opts *NukeOptions, cmd *cobra.Command) error {
	if !opts.Yes {
		return NewExitError(ExitCommandError, "refusing to nuke without --yes")
	}

	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	if !opts.Key {
		if err := s.Nuke(cmd.Context()); err != nil {
			return WrapExitError(ExitFailure, "nuke failed", err)
		}
		return opts.formatter(cmd).Success(nukeResult{})
	}

	if err := s.NukeAll(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "nuke failed", err)
	}
	if err := os.Remove(opts.Config.KeyFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return WrapExitError(ExitFailure, "failed to remove key file", err)
	}
	opts.Logger.Warn("key file removed", "key_file", opts.Config.KeyFile)
	return opts.formatter(cmd).Success(nukeResult{KeyRemoved: true})
}
