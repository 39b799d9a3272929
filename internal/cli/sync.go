package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/locket/internal/engine"
	"github.com/roach88/locket/internal/session"
	"github.com/roach88/locket/internal/store"
)

type syncResult struct {
	engine.Report
}

func (r syncResult) String() string {
	switch {
	case r.Skipped:
		return "A sync is already in progress."
	case r.Anchored > 0:
		return fmt.Sprintf("Anchored %d event(s) in %s.", r.Anchored, r.TxID)
	default:
		return fmt.Sprintf("Nothing to anchor (%s).", r.Outcome)
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Anchor every pending event now",
		Long: `Anchor every pending local event in one batch, ignoring the threshold.

Needs anchor.url in the config.

Example:
  locket sync
  locket sync --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	report, err := s.TriggerSync(cmd.Context())
	if errors.Is(err, session.ErrOffline) {
		return WrapExitError(ExitCommandError, "sync needs anchor.url", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	return opts.formatter(cmd).Success(syncResult{Report: report})
}

type verifyItem struct {
	ID       string `json:"id"`
	AssetID  string `json:"assetId"`
	Found    bool   `json:"found"`
	Verified bool   `json:"verified"`
}

type verifyResult struct {
	Results []verifyItem `json:"results"`
}

func (r verifyResult) String() string {
	if len(r.Results) == 0 {
		return "No anchored events to verify."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tASSET\tRESULT")
	for _, it := range r.Results {
		result := "ok"
		switch {
		case !it.Found:
			result = "NOT FOUND"
		case !it.Verified:
			result = "MISMATCH"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.ID, it.AssetID, result)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [event-id...]",
		Short: "Check anchored events against the ledger",
		Long: `Recompute the hash of each anchored event and compare it with the hash
recorded on the ledger. Without arguments every anchored event is checked.

Exits non-zero when any event is missing from the ledger or does not match.

Example:
  locket verify
  locket verify 0190f3c2-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
}

func runVerify(opts *RootOptions, ids []string, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	records, err := s.Events(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load events", err)
	}
	targets, err := selectForVerify(records, ids)
	if err != nil {
		return err
	}

	out := opts.formatter(cmd)
	out.VerboseLog("verifying %d anchored event(s)", len(targets))

	res := verifyResult{Results: make([]verifyItem, 0, len(targets))}
	bad := 0
	for _, r := range targets {
		v, err := s.Verify(cmd.Context(), r)
		if errors.Is(err, session.ErrOffline) {
			return WrapExitError(ExitCommandError, "verify needs anchor.url", err)
		}
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("verify %s failed", r.ID), err)
		}
		if !v.Verified {
			bad++
		}
		res.Results = append(res.Results, verifyItem{
			ID:       r.ID,
			AssetID:  r.AssetID,
			Found:    v.Found,
			Verified: v.Verified,
		})
	}

	if err := out.Success(res); err != nil {
		return err
	}
	if bad > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) failed verification", bad))
	}
	return nil
}

// selectForVerify returns the anchored records named by ids, or every
// anchored record when ids is empty.
func selectForVerify(records []store.Record, ids []string) ([]store.Record, error) {
	if len(ids) == 0 {
		var out []store.Record
		for _, r := range records {
			if r.Status == store.StatusAnchored && r.AssetID != "" {
				out = append(out, r)
			}
		}
		return out, nil
	}

	byID := make(map[string]store.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	out := make([]store.Record, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("no event with id %s", id))
		}
		if r.AssetID == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("event %s is not anchored", id))
		}
		out = append(out, r)
	}
	return out, nil
}
