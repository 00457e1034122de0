package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/example/courtwatch/internal/auth"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	var operatorPassword string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate COOKIE_HASH_KEY/COOKIE_BLOCK_KEY values (and optionally an operator password hash)",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := make([]byte, 32)
			block := make([]byte, 32)
			if _, err := rand.Read(hash); err != nil {
				return err
			}
			if _, err := rand.Read(block); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "export COOKIE_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(os.Stdout, "export COOKIE_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(block))

			if operatorPassword != "" {
				h, err := auth.HashPassword(operatorPassword)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "export OPERATOR_PASSWORD_BCRYPT='%s'\n", h)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&operatorPassword, "operator-password", "", "also print a bcrypt hash for this operator password")
	return cmd
}
