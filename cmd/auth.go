package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var (
	authCredential string
	authScopes     []string
)

// forceRefreshBuffer is large enough that every token counts as due for
// refresh, which is what `auth refresh` wants.
const forceRefreshBuffer = 24 * 365 * time.Hour

// authCmd is the auth command group.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate characters and refresh their tokens",
	Long: `Authenticate EVE Online characters and manage their tokens.

Examples:
  esiauth auth login --credential main                 # Authorize a new character
  esiauth auth login --credential main --scope esi-skills.read_skills.v1
  esiauth auth refresh --credential main               # Force-refresh all tokens`,
}

// authLoginCmd runs one interactive PKCE authentication.
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize a character via the browser-based SSO flow",
	Long: `Authorize a character using the OAuth2 PKCE flow.

The command opens your browser at the SSO login page, waits for the redirect
on the credential's registered callback port, exchanges the authorization
code, and stores the issued token. If the browser does not open, visit the
printed URL manually.`,
	RunE: runAuthLogin,
}

// authRefreshCmd force-refreshes all tokens under one credential.
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a refresh of all tokens under a credential",
	Long: `Refresh every character token stored under the given credential,
regardless of how close to expiry it is. Characters whose refresh token was
rejected are reported and must be re-authorized with 'esiauth auth login'.`,
	RunE: runAuthRefresh,
}

func init() {
	authCmd.PersistentFlags().StringVarP(&authCredential, "credential", "c", "", "Credential alias or client id (required)")
	authLoginCmd.Flags().StringArrayVar(&authScopes, "scope", nil, "ESI scope to request (repeatable; defaults to the credential's stored scopes)")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authRefreshCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	if authCredential == "" {
		return fmt.Errorf("--credential is required")
	}

	ctx := cmd.Context()

	var spin *spinner.Spinner
	application, err := buildApp(ctx, func(authURL string) {
		fmt.Printf("Opening your browser for EVE SSO login.\nIf it does not open, visit:\n\n  %s\n\n", authURL)
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = " waiting for authorization..."
		spin.Start()
	})
	if err != nil {
		return err
	}

	tok, err := application.manager.Authenticate(ctx, authCredential, authScopes)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}

	fmt.Printf("Authorized %s (%d), token valid until %s\n",
		tok.CharacterName, tok.CharacterID, tok.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	if authCredential == "" {
		return fmt.Errorf("--credential is required")
	}

	application, err := buildApp(cmd.Context(), nil)
	if err != nil {
		return err
	}

	tokens, refreshErrs, err := application.manager.AuthorizedCharacters(cmd.Context(), authCredential, forceRefreshBuffer)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(tokens))
	for id := range tokens {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		tok := tokens[id]
		if refreshErr, failed := refreshErrs[id]; failed {
			fmt.Printf("FAILED  %s (%d): %v\n", tok.CharacterName, id, refreshErr)
			continue
		}
		fmt.Printf("ok      %s (%d), valid until %s\n",
			tok.CharacterName, id, tok.ExpiresAt.Local().Format(time.RFC1123))
	}

	if len(refreshErrs) > 0 {
		return fmt.Errorf("%d of %d tokens failed to refresh", len(refreshErrs), len(tokens))
	}
	return nil
}
