package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/rolechat/internal/api"
	"github.com/kalambet/rolechat/internal/config"
	"github.com/kalambet/rolechat/internal/ingest"
	"github.com/kalambet/rolechat/internal/roles"
	"github.com/kalambet/rolechat/internal/storage"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the vector index of each role from its document folder",
	Long: `Build the vector index of each role from its document folder.

Documents are read from <docs_dir>/<role>/ and the index is written to
<index_dir>/vectorstore_<role>/index.db, replacing the previous one only
when the new build succeeds. A running server picks up new indexes
without a restart.

Examples:
  rolechat ingest
  rolechat ingest --role hr --role finance`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, _ := cmd.Flags().GetStringSlice("role")
		rs, err := parseRoles(names)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)
		if err := cfg.RequireEmbeddingAPIKey(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := ensureOllama(ctx, cfg, false); err != nil {
			return err
		}

		store, err := storage.Open(cfg.Data.StateDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		p, err := newIngestPipeline(cfg, store)
		if err != nil {
			return err
		}

		printStep("Indexing %d role(s) from %s", len(rs), cfg.Data.DocsDir)
		reports := p.Run(ctx, rs)
		printReports(reports)

		failed := 0
		for _, r := range reports {
			if r.Status == ingest.StatusFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d role(s) failed", failed, len(reports))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringSlice("role", nil, "role to index (repeatable; default all roles)")
}

func parseRoles(names []string) ([]roles.Role, error) {
	if len(names) == 0 {
		return roles.All(), nil
	}
	seen := make(map[roles.Role]bool)
	var out []roles.Role
	for _, n := range names {
		r, err := roles.Parse(n)
		if err != nil {
			return nil, err
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ask and search tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		a.start(ctx)

		srv := api.NewMCPServer(api.MCPDeps{
			Directory: a.directory,
			Answerer:  a.answerer,
			Indexes:   a.retriever,
			TopK:      cfg.Retrieval.TopK,
		}, version)
		return server.ServeStdio(srv)
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Log in and chat with a running server",
	Long: `Log in and chat with a running server.

Without --query an interactive prompt is started; type "exit" to leave.
The password is read from --password or ROLECHAT_PASSWORD.

Examples:
  rolechat chat -u alice -r engineering
  rolechat chat -u bob -r hr -q "How many vacation days do we get?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		password, _ := cmd.Flags().GetString("password")
		role, _ := cmd.Flags().GetString("role")
		query, _ := cmd.Flags().GetString("query")
		if password == "" {
			password = os.Getenv("ROLECHAT_PASSWORD")
		}
		if user == "" || password == "" || role == "" {
			return errors.New("--user, --password and --role are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		creds := api.LoginRequest{Username: user, Password: password, Role: role}
		return runChat(cmd.Context(), client, creds, query, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringP("user", "u", "", "username")
	chatCmd.Flags().StringP("password", "p", "", "password")
	chatCmd.Flags().StringP("role", "r", "", "role to log in as")
	chatCmd.Flags().StringP("query", "q", "", "ask a single question and exit")
}

func login(ctx context.Context, c *apiClient, creds api.LoginRequest) (string, error) {
	resp, err := c.post(ctx, "/login", creds)
	if err != nil {
		return "", err
	}
	var out api.LoginResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	return out.SessionID, nil
}

func ask(ctx context.Context, c *apiClient, sessionID, role, query string) (api.ChatResponse, error) {
	resp, err := c.post(ctx, "/chat", api.ChatRequest{Query: query, Role: role, SessionID: sessionID})
	if err != nil {
		return api.ChatResponse{}, err
	}
	var out api.ChatResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.ChatResponse{}, err
	}
	return out, nil
}

func printAnswer(out io.Writer, res api.ChatResponse) {
	fmt.Fprintln(out, res.Response)
	for _, s := range res.Sources {
		src := s.Source
		if s.Locator != "" {
			src += " (" + s.Locator + ")"
		}
		fmt.Fprintln(out, colorize(colorDim, fmt.Sprintf("  [%.2f] %s", s.Score, src)))
	}
}

// runChat logs in, answers query or runs a prompt loop over in, and logs
// out. Server errors on a single question are printed and the loop goes on.
func runChat(ctx context.Context, c *apiClient, creds api.LoginRequest, query string, in io.Reader, out io.Writer) error {
	sessionID, err := login(ctx, c, creds)
	if err != nil {
		return err
	}
	defer func() {
		if resp, err := c.post(ctx, "/logout", api.LogoutRequest{SessionID: sessionID}); err == nil {
			resp.Body.Close()
		}
	}()

	if query != "" {
		res, err := ask(ctx, c, sessionID, creds.Role, query)
		if err != nil {
			return err
		}
		printAnswer(out, res)
		return nil
	}

	fmt.Fprintf(out, "Logged in as %s (%s). Type \"exit\" to quit.\n", creds.Username, creds.Role)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(colorBold, "you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		res, err := ask(ctx, c, sessionID, creds.Role, line)
		if err != nil {
			printError("%v", err)
			continue
		}
		printAnswer(out, res)
	}
}

// --- roles ---

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List roles and whether the server has an index for each",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/roles")
		if err != nil {
			return err
		}
		var body struct {
			Roles []struct {
				Role    string `json:"role"`
				Indexed bool   `json:"indexed"`
			} `json:"roles"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}
		for _, r := range body.Roles {
			state := colorize(colorYellow, "no index")
			if r.Indexed {
				state = colorize(colorGreen, "indexed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", r.Role, state)
		}
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse logged chat turns (needs the admin token)",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/interactions?limit="+strconv.Itoa(limit)+"&offset="+strconv.Itoa(offset))
		if err != nil {
			return err
		}
		var items []storage.Interaction
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No interactions.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tUSER\tROLE\tQUERY")
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				it.ID, it.CreatedAt.Local().Format("2006-01-02 15:04"), it.Username, it.Role, truncate(it.Query, 60))
		}
		return w.Flush()
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one interaction as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/interactions/"+args[0])
		if err != nil {
			return err
		}
		var it any
		if err := decodeJSON(resp, &it); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(it)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions")
	interactionsListCmd.Flags().Int("offset", 0, "number of interactions to skip")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions (needs the admin token)",
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Log a session out and delete its transcript and interactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/admin/sessions/"+args[0])
		if err != nil {
			return err
		}
		var result struct {
			Deleted int64 `json:"interactions_deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted session %s (%d interactions)", args[0], result.Deleted)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsDeleteCmd)
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
