package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/kalambet/interviewd/internal/api"
	"github.com/kalambet/interviewd/internal/config"
	"github.com/kalambet/interviewd/internal/storage"
)

// --- register ---

type registerFlags struct {
	name, email, registrationID string
	file, text                   string
}

func (f registerFlags) validate() error {
	if f.name == "" || f.email == "" || f.registrationID == "" {
		return fmt.Errorf("--name, --email and --id are required")
	}
	if (f.file == "") == (f.text == "") {
		return fmt.Errorf("exactly one of --file or --text is required")
	}
	return nil
}

type submitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID             string `json:"id"`
		RegistrationID string `json:"registrationId"`
		Status         string `json:"status"`
		SessionToken   string `json:"sessionToken"`
		Summary        string `json:"summary"`
	} `json:"data"`
}

func submitRegistration(ctx context.Context, client *apiClient, f registerFlags) (submitResult, error) {
	var result submitResult

	if f.text != "" {
		resp, err := client.post(ctx, "/api/registrations", map[string]string{
			"name":           f.name,
			"email":          f.email,
			"registrationId": f.registrationID,
			"extractedText":  f.text,
		})
		if err != nil {
			return result, err
		}
		return result, decodeJSON(resp, &result)
	}

	data, err := os.ReadFile(f.file)
	if err != nil {
		return result, fmt.Errorf("reading resume: %w", err)
	}
	resp, err := client.upload(ctx, "/api/submit-interview-form", map[string]string{
		"name":           f.name,
		"email":          f.email,
		"registrationId": f.registrationID,
	}, "resume", filepath.Base(f.file), data)
	if err != nil {
		return result, err
	}
	return result, decodeJSON(resp, &result)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Submit a candidate registration",
	Long: `Submit a candidate registration to the running server.

Examples:
  interviewd register --name "Ada Lovelace" --email ada@example.com --id REG-1 --file ./resume.docx
  interviewd register --name "Ada Lovelace" --email ada@example.com --id REG-1 --text "Analytical engine programmer"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var f registerFlags
		f.name, _ = cmd.Flags().GetString("name")
		f.email, _ = cmd.Flags().GetString("email")
		f.registrationID, _ = cmd.Flags().GetString("id")
		f.file, _ = cmd.Flags().GetString("file")
		f.text, _ = cmd.Flags().GetString("text")
		if err := f.validate(); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		// Summaries may wait on the model for a while.
		client.httpClient.Timeout = 6 * time.Minute

		result, err := submitRegistration(cmd.Context(), client, f)
		if err != nil {
			return err
		}

		printSuccess("Registered %s (%s)", result.Data.RegistrationID, result.Data.Status)
		printStatus("Session token", "%s", result.Data.SessionToken)
		printStatus("Summary", "%s", result.Data.Summary)
		return nil
	},
}

func init() {
	registerCmd.Flags().String("name", "", "candidate name")
	registerCmd.Flags().String("email", "", "candidate email")
	registerCmd.Flags().String("id", "", "external registration id")
	registerCmd.Flags().String("file", "", "resume file (.docx, .pdf or .txt)")
	registerCmd.Flags().String("text", "", "resume text, instead of a file")
}

// --- registrations ---

type registrationRow struct {
	ID             string    `json:"id"`
	RegistrationID string    `json:"registrationId"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Status         string    `json:"status"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

func formatRegistration(r registrationRow) string {
	return fmt.Sprintf("%s  %-12s  %s  %s <%s>",
		colorize(colorCyan, r.RegistrationID),
		colorize(statusColor(r.Status), r.Status),
		r.SubmittedAt.Local().Format("2006-01-02 15:04"),
		r.Name,
		r.Email,
	)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var registrationsCmd = &cobra.Command{
	Use:   "registrations",
	Short: "Inspect and manage registrations (admin)",
}

var registrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent registrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/registrations?limit=%d", limit))
		if err != nil {
			return err
		}

		var list struct {
			Data []registrationRow `json:"data"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		shown := 0
		for _, r := range list.Data {
			if status != "" && r.Status != status {
				continue
			}
			fmt.Println(formatRegistration(r))
			shown++
		}
		if shown == 0 {
			fmt.Println("No registrations found.")
		}
		return nil
	},
}

var registrationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/registrations/"+args[0])
		if err != nil {
			return err
		}

		var result struct {
			Data any `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		return printJSON(result.Data)
	},
}

var registrationsStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Set a registration's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, status := args[0], args[1]
		if !storage.Status(status).Valid() {
			return fmt.Errorf("invalid status %q: use pending, processing, in_progress, completed or interviewed", status)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/api/registrations/"+id+"/status", map[string]string{"status": status})
		if err != nil {
			return err
		}

		var result struct {
			Data registrationRow `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s is now %s", result.Data.RegistrationID, result.Data.Status)
		return nil
	},
}

func init() {
	registrationsListCmd.Flags().Int("limit", 50, "maximum number of registrations to list")
	registrationsListCmd.Flags().String("status", "", "only show registrations with this status")
	registrationsCmd.AddCommand(registrationsListCmd)
	registrationsCmd.AddCommand(registrationsShowCmd)
	registrationsCmd.AddCommand(registrationsStatusCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session <token-or-registration-id>",
	Short: "Show the candidate-facing view of an interview session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/interview/session/"+args[0])
		if err != nil {
			return err
		}

		var session any
		if err := decodeJSON(resp, &session); err != nil {
			return err
		}
		return printJSON(session)
	},
}

// --- admin ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin credentials",
}

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

var adminHashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for admin.password_hash",
	Long: `Print a bcrypt hash for admin.password_hash. The password is read from
stdin when not given as an argument.

Example:
  interviewd config set-secret admin.password_hash "$(interviewd admin hash-password)"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		hash, err := hashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var adminTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token from the configured secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		token, expires, err := api.IssueAdminToken(cfg.Admin, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		printStatus("Expires", "%s", expires.Local().Format(time.RFC3339))
		return nil
	},
}

func init() {
	adminCmd.AddCommand(adminHashPasswordCmd)
	adminCmd.AddCommand(adminTokenCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		fmt.Printf("\n  secrets (env or set-secret only): %s\n", strings.Join(config.SecretKeys(), ", "))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the secrets file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetSecret(key, value); err != nil {
			return err
		}

		printSuccess("Stored %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve registration tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store})
		if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}
