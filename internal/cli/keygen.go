package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/locket/internal/crypto"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Force bool
	Print bool
}

type keygenResult struct {
	KeyFile string `json:"key_file"`
	Key     string `json:"key,omitempty"`
}

func (r keygenResult) String() string {
	if r.Key != "" {
		return fmt.Sprintf("Key written to %s\n%s", r.KeyFile, r.Key)
	}
	return fmt.Sprintf("Key written to %s", r.KeyFile)
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new 256-bit ledger key",
		Long: `Generate a random AES-256 key and write it, hex encoded, to key_file.

The key is the only way to decrypt the ledger. Back it up: losing it makes
every stored event unreadable.

Example:
  locket keygen
  locket keygen --force --print`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing key file")
	cmd.Flags().BoolVar(&opts.Print, "print", false, "also print the key to stdout")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	path := opts.Config.KeyFile

	if _, err := os.Stat(path); err == nil && !opts.Force {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("key file %s already exists (use --force to overwrite)", path))
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return WrapExitError(ExitCommandError, "failed to stat key file", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to generate key", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return WrapExitError(ExitCommandError, "failed to create key directory", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return WrapExitError(ExitCommandError, "failed to write key", err)
	}
	opts.Logger.Info("key generated", "key_file", path)

	res := keygenResult{KeyFile: path}
	if opts.Print {
		res.Key = key
	}
	return opts.formatter(cmd).Success(res)
}
