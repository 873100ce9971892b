package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"esiauth/internal/store"
)

var credentialAlias string

// credentialDescriptor is the JSON document exported from the provider's
// developer console. Consumed once by `credentials add`; not retained in
// this shape.
type credentialDescriptor struct {
	Name        string   `json:"name"`
	ClientID    string   `json:"client_id"`
	SecretKey   string   `json:"secret_key"`
	CallbackURL string   `json:"callback_url"`
	Scopes      []string `json:"scopes"`
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored application credentials",
	Long: `Manage the EVE Online application credentials stored in the auth store.

Examples:
  esiauth credentials add app-export.json          # Import a developer-console export
  esiauth credentials add app-export.json -a main  # Import under an explicit alias
  esiauth credentials list
  esiauth credentials remove main                  # Removes the credential AND its tokens`,
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <descriptor.json>",
	Short: "Import application credentials from a developer-console export",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsAdd,
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored application credentials",
	RunE:  runCredentialsList,
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <alias-or-client-id>",
	Short: "Remove application credentials and all associated tokens",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsRemove,
}

func init() {
	credentialsAddCmd.Flags().StringVarP(&credentialAlias, "alias", "a", "", "Alias for the credentials (default: derived from the application name)")

	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func runCredentialsAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read descriptor: %w", err)
	}

	var descriptor credentialDescriptor
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return fmt.Errorf("descriptor %s is not valid JSON: %w", args[0], err)
	}
	if descriptor.ClientID == "" {
		return fmt.Errorf("descriptor %s has no client_id", args[0])
	}
	if descriptor.CallbackURL == "" {
		return fmt.Errorf("descriptor %s has no callback_url", args[0])
	}

	alias := credentialAlias
	if alias == "" {
		alias = store.DeriveAlias(descriptor.Name)
	}

	cred := store.CredentialSet{
		Name:         descriptor.Name,
		ClientID:     descriptor.ClientID,
		ClientSecret: descriptor.SecretKey,
		RedirectURI:  descriptor.CallbackURL,
		Alias:        alias,
		Scopes:       descriptor.Scopes,
	}

	if err := newStore(cfg).AddCredential(cred); err != nil {
		return err
	}

	fmt.Printf("Added credentials for %q as alias %q\n", descriptor.Name, cred.Alias)
	return nil
}

func runCredentialsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	authStore := newStore(cfg)
	authStore.Lock()
	snapshot, err := authStore.Load()
	authStore.Unlock()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Alias", "Name", "Client ID", "Redirect URI", "Default Scopes"})
	for _, cred := range snapshot.Credentials {
		t.AppendRow(table.Row{
			cred.Alias,
			cred.Name,
			cred.ClientID,
			cred.RedirectURI,
			strings.Join(cred.Scopes, ", "),
		})
	}
	t.Render()

	return nil
}

func runCredentialsRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	if err := newStore(cfg).RemoveCredential(args[0]); err != nil {
		return err
	}

	fmt.Printf("Removed credentials %q and all associated character tokens\n", args[0])
	return nil
}
