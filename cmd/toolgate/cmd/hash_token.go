package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
)

var hashArgon2id bool

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Hash a team or personal token for the config file",
	Long: `Hash a token for use in the team_tokens[].hash or user_tokens[].hash field.

The default output is "sha256:<hex>". With --argon2id the output is an
Argon2id PHC string; such tokens are verified by iteration, so keep them
for low-volume credentials. OAuth access tokens must use SHA-256.

Without an argument a new random token is generated and printed together
with its hash.

Example:
  toolgate hash-token "tgk_3q2kLw9xv0Rb"
  # Output: sha256:7d5e8c...

Security note: The token will appear in shell history.
Consider clearing history after use or using environment variable:
  toolgate hash-token "$TEAM_TOKEN"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashToken,
}

func init() {
	hashTokenCmd.Flags().BoolVar(&hashArgon2id, "argon2id", false, "produce an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashTokenCmd)
}

func runHashToken(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		generated, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		token = generated
		fmt.Fprintf(out, "token: %s\n", token)
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	hash, err := hashFor(token, hashArgon2id)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		fmt.Fprintln(out, hash)
	} else {
		fmt.Fprintf(out, "hash:  %s\n", hash)
	}
	return nil
}

func hashFor(token string, argon bool) (string, error) {
	if argon {
		h, err := auth.HashTokenArgon2id(token)
		if err != nil {
			return "", fmt.Errorf("hash token: %w", err)
		}
		return h, nil
	}
	return "sha256:" + auth.HashToken(token), nil
}
