package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/dbgtoolsrv/internal/config"
	"github.com/hrygo/dbgtoolsrv/internal/scriptauth"
)

// scriptCmd groups operator tooling around C11's callback token
// boundary. The script extension runner itself is out of scope; this
// is just enough CLI surface for an operator to mint a token for it
// without standing up the whole server.
var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Manage script-extension callback tokens.",
}

var scriptIssueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Mint a callback token for the external script runner.",
	RunE: func(_ *cobra.Command, _ []string) error {
		secret := viper.GetString("script-auth-secret")
		if secret == "" {
			return fmt.Errorf("script-auth-secret must be set (flag, DBGTOOLSRV_SCRIPT_AUTH_SECRET, or .env)")
		}
		scriptID := viper.GetString("issue-script-id")
		if scriptID == "" {
			return fmt.Errorf("--script-id is required")
		}

		auth, err := scriptauth.New(secret)
		if err != nil {
			return fmt.Errorf("build script authenticator: %w", err)
		}

		token, err := auth.IssueToken(scriptID, viper.GetDuration("issue-script-ttl"))
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	scriptCmd.AddCommand(scriptIssueTokenCmd)

	scriptIssueTokenCmd.Flags().String("script-id", "", "script identifier to embed in the token")
	scriptIssueTokenCmd.Flags().Duration("ttl", config.Defaults().ScriptAuthTTL, "token validity duration")

	for flag, key := range map[string]string{
		"script-id": "issue-script-id", "ttl": "issue-script-ttl",
	} {
		if err := viper.BindPFlag(key, scriptIssueTokenCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
