package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"esiauth/internal/store"
)

var (
	charactersCredential string
	charactersNoRefresh  bool
)

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "List and remove authorized characters",
	Long: `Inspect the characters authorized under a credential.

Examples:
  esiauth characters list --credential main
  esiauth characters list --credential main --no-refresh
  esiauth characters remove --credential main 2112625428`,
}

var charactersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List authorized characters, refreshing tokens that are due",
	RunE:  runCharactersList,
}

var charactersRemoveCmd = &cobra.Command{
	Use:   "remove <character-id>",
	Short: "Remove a character's token",
	Args:  cobra.ExactArgs(1),
	RunE:  runCharactersRemove,
}

func init() {
	charactersCmd.PersistentFlags().StringVarP(&charactersCredential, "credential", "c", "", "Credential alias or client id (required)")
	charactersListCmd.Flags().BoolVar(&charactersNoRefresh, "no-refresh", false, "List stored tokens as-is without refreshing")

	charactersCmd.AddCommand(charactersListCmd)
	charactersCmd.AddCommand(charactersRemoveCmd)
	rootCmd.AddCommand(charactersCmd)
}

func runCharactersList(cmd *cobra.Command, args []string) error {
	if charactersCredential == "" {
		return fmt.Errorf("--credential is required")
	}

	var tokens []store.CharacterToken
	refreshErrs := map[int64]error{}

	if charactersNoRefresh {
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
		tokens, err = snapshot.TokensFor(charactersCredential)
		if err != nil {
			return err
		}
	} else {
		application, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		byID, errs, err := application.manager.AuthorizedCharacters(cmd.Context(), charactersCredential, application.refreshBuffer())
		if err != nil {
			return err
		}
		refreshErrs = errs
		for _, tok := range byID {
			tokens = append(tokens, tok)
		}
	}

	sort.Slice(tokens, func(i, j int) bool { return tokens[i].CharacterID < tokens[j].CharacterID })

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Character ID", "Name", "Expires", "Scopes", "Status"})
	for _, tok := range tokens {
		status := "ok"
		if tok.NeedsReauth {
			status = "needs re-auth"
		} else if tok.IsExpired() {
			status = "expired"
		}
		if _, failed := refreshErrs[tok.CharacterID]; failed {
			status = "refresh failed"
		}
		t.AppendRow(table.Row{
			tok.CharacterID,
			tok.CharacterName,
			tok.ExpiresAt.Local().Format(time.RFC1123),
			strings.Join(tok.Scopes, ", "),
			status,
		})
	}
	t.Render()

	for id, err := range refreshErrs {
		fmt.Fprintf(os.Stderr, "character %d: %v\n", id, err)
	}

	return nil
}

func runCharactersRemove(cmd *cobra.Command, args []string) error {
	if charactersCredential == "" {
		return fmt.Errorf("--credential is required")
	}

	characterID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid character id %q", args[0])
	}

	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	if err := newStore(cfg).RemoveCharacter(charactersCredential, characterID); err != nil {
		return err
	}

	fmt.Printf("Removed character %d from credential %q\n", characterID, charactersCredential)
	return nil
}
