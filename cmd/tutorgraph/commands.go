package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/tutorgraph/internal/api"
	"github.com/kalambet/tutorgraph/internal/config"
)

func sendTurn(ctx context.Context, client *apiClient, sessionID, query string) (api.TurnResponse, error) {
	var res api.TurnResponse
	resp, err := client.post(ctx, "/v1/turns", api.TurnRequest{SessionID: sessionID, Query: query})
	if err != nil {
		return res, err
	}
	err = decodeJSON(resp, &res)
	return res, err
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive tutoring session",
	Long: `Start an interactive tutoring session. Type "exit" or "quit" to leave.

Examples:
  tutorgraph chat
  tutorgraph chat --session 3f6c0a52-8f0e-4f57-9d55-3c3f1a0e8a11`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), client, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runChat(ctx context.Context, client *apiClient, sessionID string, in io.Reader, out io.Writer) error {
	printStatus("Session", "%s", colorize(colorCyan, sessionID))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, colorize(colorBold, "you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			printSuccess("Session %s saved", sessionID)
			return nil
		}

		res, err := sendTurn(ctx, client, sessionID, line)
		if err != nil {
			printError("%v", err)
			continue
		}
		fmt.Fprintf(out, "%s %s\n", colorize(colorGreen, "tutor>"), res.Answer)
		printTurnMeta(res.Provider, res.Override, res.ToolsUsed)
	}
}

func init() {
	chatCmd.Flags().String("session", "", "session id to continue (default: new session)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		res, err := sendTurn(cmd.Context(), client, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
		printTurnMeta(res.Provider, res.Override, res.ToolsUsed)
		printStatus("Session", "%s", res.SessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id to continue (default: new session)")
	askCmd.Flags().Bool("json", false, "print the full turn result as JSON")
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List or delete sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/sessions?limit=%d", limit))
		if err != nil {
			return err
		}
		var sessions []api.Session
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}
		for _, s := range sessions {
			line := fmt.Sprintf("%s  %s  %s", colorize(colorCyan, s.ID), s.LastActive.Local().Format(time.DateTime), s.UserID)
			if o := s.Metadata["model_override"]; o != "" {
				line += "  [" + o + "]"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <session>",
	Short: "Show the message log of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+url.PathEscape(args[0])+"/messages")
		if err != nil {
			return err
		}
		var messages []api.Message
		if err := decodeJSON(resp, &messages); err != nil {
			return err
		}

		for _, m := range messages {
			role := colorize(colorBold, m.Role+":")
			if m.Role == "assistant" {
				role = colorize(colorGreen, m.Role+":")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", role, m.Content)
		}
		return nil
	},
}

// --- corrections ---

var correctionsCmd = &cobra.Command{
	Use:   "corrections",
	Short: "Inspect or remove stored corrections",
}

var correctionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored correction",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/corrections")
		if err != nil {
			return err
		}
		var list []api.Correction
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No corrections stored.")
			return nil
		}
		for _, c := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s %s\n", colorize(colorBold, c.Key), colorize(colorCyan, "->"), c.Text)
		}
		return nil
	},
}

var correctionsDeleteCmd = &cobra.Command{
	Use:   "delete <query>",
	Short: "Delete the correction stored for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/corrections", map[string]string{"key": key})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted correction for %q", key)
		return nil
	},
}

func init() {
	correctionsCmd.AddCommand(correctionsListCmd)
	correctionsCmd.AddCommand(correctionsDeleteCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add material to the knowledge base",
	Long: `Add material to the knowledge base searched by retrieve_knowledge_tool.

Examples:
  tutorgraph ingest --text "Mitochondria produce ATP" --title "Cell biology"
  tutorgraph ingest --file ./lecture.pdf --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		wait, _ := cmd.Flags().GetBool("wait")

		req, err := ingestRequest(text, file, title)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/ingest", req)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s", result["job_id"])

		if !wait {
			return nil
		}
		job, err := waitForJob(cmd.Context(), client, result["job_id"], 500*time.Millisecond)
		if err != nil {
			return err
		}
		if job.Status != "completed" {
			return fmt.Errorf("ingest job %s: %s", job.Status, job.LastError)
		}
		printSuccess("Ingested")
		return nil
	},
}

func ingestRequest(text, file, title string) (api.IngestRequest, error) {
	req := api.IngestRequest{Title: title, Source: "cli"}
	switch {
	case text != "":
		req.Text = text
	case file != "":
		abs, err := filepath.Abs(file)
		if err != nil {
			return req, fmt.Errorf("resolving file: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return req, fmt.Errorf("reading file: %w", err)
		}
		req.Path = abs
		req.Source = abs
	default:
		return req, fmt.Errorf("one of --text or --file is required")
	}
	return req, nil
}

// waitForJob polls until the job completes or exhausts its retries.
func waitForJob(ctx context.Context, client *apiClient, id string, poll time.Duration) (api.Job, error) {
	for {
		resp, err := client.get(ctx, "/v1/jobs/"+id)
		if err != nil {
			return api.Job{}, err
		}
		var job api.Job
		if err := decodeJSON(resp, &job); err != nil {
			return api.Job{}, err
		}
		if job.Status == "completed" || job.Status == "failed" {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (PDF or text)")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().Bool("wait", false, "wait until the document is indexed")
}

// --- tools ---

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the tutor can call",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/tools")
		if err != nil {
			return err
		}
		var list []api.ToolInfo
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		for _, t := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n", colorize(colorBold, t.Name), t.Description)
		}
		return nil
	},
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
		loadDotEnv()
		cfg, err := config.Read()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (empty value resets it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
