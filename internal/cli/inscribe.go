package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/locket/internal/session"
	"github.com/roach88/locket/internal/store"
)

// InscribeOptions holds flags for the inscribe command.
type InscribeOptions struct {
	*RootOptions
	Timestamp string
}

// eventView is the printable form of a record.
type eventView struct {
	ID        string       `json:"id"`
	TS        int64        `json:"ts"`
	Day       string       `json:"day"`
	Status    store.Status `json:"status"`
	AssetID   string       `json:"assetId,omitempty"`
	Signature string       `json:"signature"`
	Value     any          `json:"value,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func newEventView(r store.Record, loc *time.Location) eventView {
	return eventView{
		ID:        r.ID,
		TS:        r.TS,
		Day:       formatDay(r.TS, loc),
		Status:    r.Status,
		AssetID:   r.AssetID,
		Signature: r.Signature,
	}
}

type inscribeResult struct {
	Events []eventView `json:"events"`
}

func (r inscribeResult) String() string {
	if len(r.Events) == 1 {
		e := r.Events[0]
		return fmt.Sprintf("Inscribed %s for %s (signature %s)", e.ID, e.Day, shortHash(e.Signature))
	}
	return fmt.Sprintf("Inscribed %d events", len(r.Events))
}

// NewInscribeCommand creates the inscribe command.
func NewInscribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InscribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inscribe <value>",
		Short: "Encrypt and store one event",
		Long: `Encrypt a value and store it as a local event.

The value is parsed as JSON; anything that is not valid JSON is stored as a
string. The timestamp defaults to now.

Example:
  locket inscribe '{"flow":"medium","symptoms":["cramps"]}'
  locket inscribe '{"flow":"light"}' --ts 2024-03-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInscribe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Timestamp, "ts", "", "event time: unix ms, YYYY-MM-DD or RFC 3339 (default now)")

	return cmd
}

func runInscribe(opts *InscribeOptions, raw string, cmd *cobra.Command) error {
	loc, err := opts.Config.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid store location", err)
	}
	ts, err := parseTimestamp(opts.Timestamp, loc)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --ts", err)
	}

	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	r, err := s.Inscribe(cmd.Context(), parseValue(raw), ts)
	if err != nil {
		return WrapExitError(ExitFailure, "inscribe failed", err)
	}
	return opts.formatter(cmd).Success(inscribeResult{Events: []eventView{newEventView(r, loc)}})
}

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	Value string
	Start string
	Days  int
}

// batchEntry is one element of a batch file. TS is unix ms or any string
// accepted by parseTimestamp.
type batchEntry struct {
	Value json.RawMessage `json:"value"`
	TS    json.RawMessage `json:"ts,omitempty"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch [file|-]",
		Short: "Encrypt and store many events in one write",
		Long: `Store several events atomically: either all are written or none.

Events come from a JSON array of {"value": ..., "ts": ...} objects read from
a file or stdin, or from --value repeated over --days consecutive days
starting at --start.

Example:
  locket batch events.json
  cat events.json | locket batch -
  locket batch --value '{"flow":"medium"}' --start 2024-03-01 --days 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Value, "value", "", "value to store for every day of the period")
	cmd.Flags().StringVar(&opts.Start, "start", "", "first day of the period (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "number of consecutive days to fill")

	return cmd
}

func runBatch(opts *BatchOptions, args []string, cmd *cobra.Command) error {
	loc, err := opts.Config.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid store location", err)
	}

	var entries []session.Entry
	switch {
	case len(args) == 1 && opts.Value != "":
		return NewExitError(ExitCommandError, "use either a batch file or --value, not both")
	case len(args) == 1:
		entries, err = readBatchFile(args[0], cmd.InOrStdin(), loc)
	case opts.Value != "":
		entries, err = periodEntries(opts.Value, opts.Start, opts.Days, loc)
	default:
		return NewExitError(ExitCommandError, "batch needs a file argument or --value")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid batch", err)
	}

	out := opts.formatter(cmd)
	out.VerboseLog("inscribing %d event(s)", len(entries))

	s, err := opts.openSession(cmd.Context(), oneShot, nil)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	records, err := s.BatchInscribe(cmd.Context(), entries)
	if err != nil {
		return WrapExitError(ExitFailure, "batch inscribe failed", err)
	}

	res := inscribeResult{Events: make([]eventView, len(records))}
	for i, r := range records {
		res.Events[i] = newEventView(r, loc)
	}
	return out.Success(res)
}

func readBatchFile(path string, stdin io.Reader, loc *time.Location) ([]session.Entry, error) {
	var (
		buf []byte
		err error
	)
	if path == "-" {
		buf, err = io.ReadAll(stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var raw []batchEntry
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("batch is empty")
	}

	entries := make([]session.Entry, len(raw))
	for i, e := range raw {
		if len(e.Value) == 0 {
			return nil, fmt.Errorf("entry %d: missing value", i)
		}
		var v any
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		ts, err := entryTimestamp(e.TS, loc)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries[i] = session.Entry{Value: v, TS: ts}
	}
	return entries, nil
}

func entryTimestamp(raw json.RawMessage, loc *time.Location) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseTimestamp(s, loc)
	}
	return parseTimestamp(string(raw), loc)
}

// periodEntries repeats value once per day for days days from start.
func periodEntries(value, start string, days int, loc *time.Location) ([]session.Entry, error) {
	if days <= 0 {
		return nil, fmt.Errorf("--days must be positive")
	}
	first, err := time.ParseInLocation(dayLayout, start, loc)
	if err != nil {
		return nil, fmt.Errorf("--start must be YYYY-MM-DD: %w", err)
	}
	v := parseValue(value)
	entries := make([]session.Entry, days)
	for i := range entries {
		day := first.AddDate(0, 0, i).Add(12 * time.Hour)
		entries[i] = session.Entry{Value: v, TS: day.UnixMilli()}
	}
	return entries, nil
}

// parseValue decodes s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

