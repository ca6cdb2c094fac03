package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/sessioncore/pkg/configstore"
)

func newConfigCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration entries (agents, presets) in --config-dir",
	}

	withStore := func(run func(cmd *cobra.Command, store configstore.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cfg.v)
			if err != nil {
				return err
			}
			store, err := openConfigStore(s)
			if err != nil {
				return err
			}
			return run(cmd, store, args)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first; the selected one is marked with *",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store configstore.Store, _ []string) error {
			entries, err := store.List()
			if err != nil {
				return err
			}
			selected, err := store.Selected()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				mark := " "
				if e.ID() == selected {
					mark = "*"
				}
				name, _ := e["name"].(string)
				fmt.Fprintf(out, "%s %s", mark, e.ID())
				if name != "" {
					fmt.Fprintf(out, "  %s", name)
				}
				fmt.Fprintln(out)
			}
			return nil
		}),
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print an entry as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store configstore.Store, args []string) error {
			e, err := store.Load(args[0])
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(map[string]any(e))
			if err != nil {
				return errors.Wrap(err, "encode entry")
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		}),
	}

	set := &cobra.Command{
		Use:   "set <id> key=value...",
		Short: "Create an entry or merge keys into it",
		Long: `Create an entry or merge keys into it.

Values are parsed as YAML, so numbers, booleans and lists keep their type.
"key=null" (or "key=") removes the key. The id and createdAt keys are managed
by the store and cannot be set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store configstore.Store, args []string) error {
			patch, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			id := args[0]
			_, err = store.Load(id)
			switch {
			case errors.Is(err, configstore.ErrNotFound):
				entry := configstore.Entry{configstore.FieldID: id}
				for k, val := range patch {
					if val != nil && k != configstore.FieldID && k != configstore.FieldCreatedAt {
						entry[k] = val
					}
				}
				if _, err := configstore.Add(store, entry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", id)
			case err != nil:
				return err
			default:
				if _, err := configstore.Update(store, id, patch); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", id)
			}
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store configstore.Store, args []string) error {
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}

	sel := &cobra.Command{
		Use:   "select [id]",
		Short: "Print the selected entry, or select one (--clear clears)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store configstore.Store, args []string) error {
			clearSelection, _ := cmd.Flags().GetBool("clear")
			switch {
			case clearSelection:
				return store.Select("")
			case len(args) == 1:
				return store.Select(args[0])
			default:
				id, err := store.Selected()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
		}),
	}
	sel.Flags().Bool("clear", false, "Clear the selection")

	cmd.AddCommand(list, get, set, del, sel)
	return cmd
}

func parseAssignments(args []string) (map[string]any, error) {
	patch := map[string]any{}
	for _, a := range args {
		key, raw, ok := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("expected key=value, got %q", a)
		}
		var val any
		if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
			val = raw
		}
		patch[key] = val
	}
	return patch, nil
}
