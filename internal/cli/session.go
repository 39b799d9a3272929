package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/roach88/locket/internal/anchor"
	"github.com/roach88/locket/internal/metrics"
	"github.com/roach88/locket/internal/session"
	"github.com/roach88/locket/internal/store"
)

// sessionMode selects which background workers a session runs.
type sessionMode int

const (
	// oneShot sessions serve a single command: no padding, no ticker.
	oneShot sessionMode = iota
	// longLived sessions run padding and periodic sync until stopped.
	longLived
)

// readKey loads the hex key from path.
func readKey(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", NewExitError(ExitCommandError,
			fmt.Sprintf("no key found at %s: run `locket keygen` first", path))
	}
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to read key", err)
	}
	return strings.TrimSpace(string(buf)), nil
}

// openStore opens the configured store.
func (o *RootOptions) openStore(ctx context.Context) (store.Store, error) {
	cfg := o.Config
	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid store location", err)
	}
	st, err := store.Open(ctx, store.Options{
		Backend:  cfg.Store.Backend,
		Dir:      cfg.DataDir,
		Location: loc,
		Logger:   o.Logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

// openSession opens a session over the configured store and key. m may be
// nil.
func (o *RootOptions) openSession(ctx context.Context, mode sessionMode, m *metrics.Metrics) (*session.Session, error) {
	cfg := o.Config
	keyHex, err := readKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	st, err := o.openStore(ctx)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithIdentity(cfg.Identity),
		session.WithLogger(o.Logger),
		session.WithMetrics(m),
		session.WithThreshold(cfg.Sync.Threshold),
		session.WithVerifyTTL(cfg.VerifyTTL()),
	}
	if cfg.Anchor.URL != "" {
		client, err := anchor.NewClient(cfg.Anchor.URL,
			anchor.WithTimeout(cfg.AnchorTimeout()),
			anchor.WithLogger(o.Logger),
		)
		if err != nil {
			_ = st.Close()
			return nil, WrapExitError(ExitCommandError, "invalid anchor.url", err)
		}
		opts = append(opts, session.WithRemote(client))
	}
	if mode == longLived {
		opts = append(opts, session.WithSyncInterval(cfg.SyncInterval()))
		if cfg.PaddingEnabled() {
			min, max := cfg.PaddingBounds()
			opts = append(opts, session.WithPadding(min, max))
		}
	}

	s := session.New(st, opts...)
	if err := s.Open(ctx, keyHex); err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open session", err)
	}
	return s, nil
}

// closeSession closes s, giving an in-flight sync up to the anchor timeout
// to finish.
func (o *RootOptions) closeSession(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), o.Config.AnchorTimeout()+5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		o.Logger.Error("error closing session", "error", err)
	}
}
