package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aranyaone/relay/internal/auth"
	"github.com/aranyaone/relay/internal/domain"
)

var (
	tokenSecret string
	tokenName   string
	tokenRole   string
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token for an identity",
	Long: `Mint an HMAC-signed bearer token the hub will accept at connect time.
The secret must match the hub's RELAY_JWT_SECRET.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		authenticator, err := auth.NewJWTAuthenticator(auth.DefaultOptions([]byte(tokenSecret)))
		if err != nil {
			return err
		}

		token, err := authenticator.Generate(domain.Identity{
			ID:   args[0],
			Name: tokenName,
			Role: domain.Role(tokenRole),
		})
		if err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (required)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name for the identity")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleUser), "role: user or admin")
	tokenCmd.MarkFlagRequired("secret")
	rootCmd.AddCommand(tokenCmd)
}
