package main

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/glazed/pkg/formatters"
	glazedjson "github.com/go-go-golems/glazed/pkg/formatters/json"
	tableformatter "github.com/go-go-golems/glazed/pkg/formatters/table"
	glazedyaml "github.com/go-go-golems/glazed/pkg/formatters/yaml"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	tablemw "github.com/go-go-golems/glazed/pkg/middlewares/table"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newSessionsCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored session transcripts",
	}
	cmd.AddCommand(newSessionsListCommand(cfg), newSessionsShowCommand(cfg))
	return cmd
}

func newSessionsListCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cfg.v)
			if err != nil {
				return err
			}
			if s.DB == "" {
				return errors.New("sessions needs --db")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			since, _ := cmd.Flags().GetDuration("since")
			output, _ := cmd.Flags().GetString("output")
			of, err := newRowFormatter(output)
			if err != nil {
				return err
			}

			store, err := openStore(s)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var sinceMs int64
			if since > 0 {
				sinceMs = time.Now().Add(-since).UnixMilli()
			}
			records, err := store.ListSessions(cmd.Context(), limit, sinceMs)
			if err != nil {
				return err
			}

			gp := middlewares.NewTableProcessor()
			if err := of.RegisterTableMiddlewares(gp); err != nil {
				return errors.Wrap(err, "register output middlewares")
			}
			gp.AddTableMiddleware(tablemw.NewOutputMiddleware(of, cmd.OutOrStdout()))
			for _, r := range records {
				row := types.NewRow(
					types.MRP("session_id", r.SessionID),
					types.MRP("protocol", r.Protocol),
					types.MRP("status", r.Status),
					types.MRP("messages", r.MessageCount),
					types.MRP("last_activity", formatMillis(r.LastActivityMs)),
				)
				if err := gp.AddRow(cmd.Context(), row); err != nil {
					return err
				}
			}
			return gp.Close(cmd.Context())
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum number of sessions")
	cmd.Flags().Duration("since", 0, "Only sessions active within this duration")
	cmd.Flags().StringP("output", "o", "table", "Output format (table, markdown, html, json, yaml)")
	return cmd
}

func newSessionsShowCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cfg.v)
			if err != nil {
				return err
			}
			if s.DB == "" {
				return errors.New("sessions needs --db")
			}
			tokens, _ := cmd.Flags().GetBool("tokens")
			markdown, _ := cmd.Flags().GetBool("markdown")
			asJSON, _ := cmd.Flags().GetBool("json")

			store, err := openStore(s)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			record, msgs, ok, err := store.LoadTranscript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("session %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"record": record, "messages": msgs})
			}
			p, err := newTranscriptPrinter(out, markdown, tokens)
			if err != nil {
				return err
			}
			p.header("Session "+record.SessionID, [][2]string{
				{"protocol", record.Protocol},
				{"status", record.Status},
				{"backend session", record.BackendSessionID},
				{"created", formatMillis(record.CreatedAtMs)},
				{"last activity", formatMillis(record.LastActivityMs)},
				{"error", record.LastError},
			})
			return p.messages(msgs)
		},
	}
	cmd.Flags().Bool("tokens", false, "Show per-message token counts")
	cmd.Flags().Bool("markdown", true, "Render assistant messages as markdown on terminals")
	cmd.Flags().Bool("json", false, "Print record and messages as JSON")
	return cmd
}

func newRowFormatter(output string) (formatters.TableOutputFormatter, error) {
	switch output {
	case "", "table":
		return tableformatter.NewOutputFormatter("ascii"), nil
	case "markdown", "html":
		return tableformatter.NewOutputFormatter(output), nil
	case "json":
		return glazedjson.NewOutputFormatter(), nil
	case "yaml":
		return glazedyaml.NewOutputFormatter(), nil
	default:
		return nil, errors.Errorf("unknown output format %q", output)
	}
}
