package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spigotdb/spigot/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys on a running server",
		Long: `Create, list, rotate, and revoke API keys against a running Spigot server.

Key management requires an admin session token; mint one with 'spigot token'
and pass it via --auth or the SPIGOT_TOKEN environment variable.`,
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (default http://127.0.0.1:8080)")

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyRotateCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name      string
		authCred  string
		readOnly  bool
		tables    []string
		expiresIn string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Issue a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  spigot key create --name "CI pipeline"
  spigot key create --name reporting --read-only --tables orders,customers
  spigot key create --name temp --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(name, authCred, readOnly, tables, expiresIn)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&authCred, "auth", "", "Admin token (or set SPIGOT_TOKEN)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Grant read access only")
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "Restrict data access to these tables")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Key lifetime as a Go duration (e.g. 720h)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(name, authCred string, readOnly bool, tables []string, expiresIn string) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}

	actions := []string{model.ActionRead}
	if !readOnly {
		actions = append(actions, model.ActionWrite, model.ActionDelete)
	}
	perms := []model.Permission{
		{Resource: model.ResourceData, Actions: actions, TableNames: tables},
	}

	payload := map[string]interface{}{
		"name":        name,
		"permissions": perms,
	}
	if expiresIn != "" {
		payload["expires_in"] = expiresIn
	}

	var resp struct {
		Key    string        `json:"key"`
		APIKey *model.APIKey `json:"api_key"`
	}
	if err := apiRequest(http.MethodPost, "/api/v1/auth/api-keys", credential, payload, &resp); err != nil {
		return err
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", resp.Key)
	fmt.Printf("  Name: %s\n", name)
	if len(tables) > 0 {
		fmt.Printf("  Tables: %s\n", strings.Join(tables, ", "))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		authCred   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(authCred, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&authCred, "auth", "", "Admin token (or set SPIGOT_TOKEN)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(authCred string, jsonOutput bool) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}

	var resp struct {
		APIKeys []*model.APIKey `json:"api_keys"`
	}
	if err := apiRequest(http.MethodGet, "/api/v1/auth/api-keys", credential, nil, &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp.APIKeys)
	}

	if len(resp.APIKeys) == 0 {
		fmt.Println("No API keys issued. Use 'spigot key create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-18s %-24s %-8s\n", "ID", "PREFIX", "NAME", "REVOKED")
	for _, k := range resp.APIKeys {
		revoked := "no"
		if k.Revoked {
			revoked = "yes"
		}
		fmt.Printf("%-38s %-18s %-24s %-8s\n", k.ID, k.KeyPrefix, k.Name, revoked)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var authCred string

	cmd := &cobra.Command{
		Use:   "revoke <id-or-prefix>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key, rejecting any further requests that present it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(authCred, args[0])
		},
	}

	cmd.Flags().StringVar(&authCred, "auth", "", "Admin token (or set SPIGOT_TOKEN)")

	return cmd
}

func runKeyRevoke(authCred, id string) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}
	if err := apiRequest(http.MethodDelete, "/api/v1/auth/api-keys/"+id, credential, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Revoked API key %q\n", id)
	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var authCred string

	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Rotate an API key",
		Long:  "Replace a key's secret with a fresh one. The old secret stops working immediately; permissions and rate-limit policy carry over.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRotate(authCred, args[0])
		},
	}

	cmd.Flags().StringVar(&authCred, "auth", "", "Admin token (or set SPIGOT_TOKEN)")

	return cmd
}

func runKeyRotate(authCred, id string) error {
	credential, err := resolveCredential(authCred)
	if err != nil {
		return err
	}

	var resp struct {
		Key string `json:"key"`
	}
	if err := apiRequest(http.MethodPost, "/api/v1/auth/api-keys/"+id+"/rotate", credential, nil, &resp); err != nil {
		return err
	}

	fmt.Println("API Key rotated:")
	fmt.Println()
	fmt.Printf("  New key: %s\n", resp.Key)
	fmt.Println()
	fmt.Println("  The old key no longer works. Save the new key now.")
	return nil
}
