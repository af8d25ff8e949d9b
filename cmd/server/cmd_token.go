package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sehha.app/diagnosis-assistant/internal/auth"
)

var tokenFlags struct {
	user string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a user id (needs JWT_SECRET)",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFlags.user, "user", "", "User id to put in the token subject (required)")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, _ []string) error {
	token, err := auth.GenerateJWT(tokenFlags.user)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
