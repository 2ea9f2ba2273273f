package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// secretCMD prints a fresh random secret suitable for server.jwt_secret or
// server.admin_invite_token.
func secretCMD() *cobra.Command {
	var size int
	var secret = &cobra.Command{
		Use:   "secret",
		Short: "Generate a random secret key",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, size)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(buf))
			return nil
		},
	}
	secret.Flags().IntVar(&size, "bytes", 32, "secret length in bytes")

	return secret
}
