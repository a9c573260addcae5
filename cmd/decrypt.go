package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/web-archiver/internal/cipher"
)

func newDecryptCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "decrypt <file>",
		Short: "Decrypts an archived page or asset file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolve(cmd.Context())
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err //nolint:wrapcheck
			}
			engine, err := cipher.New(cfg.Archive.MasterSecret)
			if err != nil {
				return fmt.Errorf("cipher init failed: %w", err)
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			plain, err := engine.DecryptBytes(strings.TrimSpace(string(raw)))
			if err != nil {
				return fmt.Errorf("decrypt %s: %w", args[0], err)
			}
			if out != "" {
				if err := os.WriteFile(out, plain, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				return nil
			}
			if _, err := cmd.OutOrStdout().Write(plain); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write plaintext to this file instead of stdout")
	return cmd
}
