package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sydlexius/contentguard/internal/backup"
	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/scan"
	"github.com/sydlexius/contentguard/internal/settings"
	"github.com/sydlexius/contentguard/internal/subscription"
)

// withApp wraps a command body with app setup and teardown.
func withApp(flags *globalFlags, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(flags)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newScanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <content-id>",
		Short: "Scan one content item across every enabled source",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			bus, stopEvents, err := a.startEvents()
			if err != nil {
				return err
			}
			defer stopEvents()

			orchestrator, err := a.newOrchestrator(cmd.Context(), bus)
			if err != nil {
				return err
			}
			created, err := orchestrator.RunScan(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, scan.ErrContentNotFound) {
					return fmt.Errorf("no content with id %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scan complete: %d new infringements\n", created)
			return nil
		}),
	}
}

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the source result cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache entry counts, hits and age",
			Args:  cobra.NoArgs,
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
				stats, err := a.cache.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			}),
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete expired cache entries",
			Args:  cobra.NoArgs,
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
				res, err := a.cache.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}),
		},
		&cobra.Command{
			Use:   "invalidate <content-id>",
			Short: "Drop every cached result for a content item",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
				n, err := a.cache.Invalidate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries\n", n)
				return nil
			}),
		},
	)
	return cmd
}

func newSecretsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted source credentials",
		Long: "Manage encrypted source credentials. Known keys: " +
			strings.Join(settings.Keys(), ", "),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> [value]",
			Short: "Store a credential; prompts when value is omitted",
			Args:  cobra.RangeArgs(1, 2),
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
				if err := checkSecretKey(args[0]); err != nil {
					return err
				}
				value := ""
				if len(args) == 2 {
					value = args[1]
				} else {
					v, err := readSecret(cmd, args[0])
					if err != nil {
						return err
					}
					value = v
				}
				if value == "" {
					return errors.New("empty value")
				}
				if err := a.settings.Set(cmd.Context(), args[0], value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Remove a stored credential",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
				if err := checkSecretKey(args[0]); err != nil {
					return err
				}
				if err := a.settings.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			}),
		},
	)
	return cmd
}

func checkSecretKey(key string) error {
	if !slices.Contains(settings.Keys(), key) {
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(settings.Keys(), ", "))
	}
	return nil
}

// readSecret reads a value without echo from a terminal, or one line from
// piped stdin.
func readSecret(cmd *cobra.Command, key string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // stdin descriptor fits in int
	if term.IsTerminal(fd) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", key)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading value: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading value: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newContentCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Manage protected content",
	}

	var c content.ProtectedContent
	var contentType, frequency string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a work to protect",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			t, err := content.ParseType(contentType)
			if err != nil {
				return err
			}
			c.Type = t
			c.ScanFrequency = content.Frequency(frequency)
			if err := a.contents.Create(cmd.Context(), &c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		}),
	}
	add.Flags().StringVar(&c.OwnerID, "owner", "", "owning user id")
	add.Flags().StringVar(&c.Title, "title", "", "title searched for")
	add.Flags().StringVar(&c.OriginalURL, "url", "", "canonical location of the original")
	add.Flags().StringSliceVar(&c.Keywords, "keywords", nil, "comma-separated search keywords")
	add.Flags().StringVar(&contentType, "type", string(content.TypeVideo), "content type (video, pdf)")
	add.Flags().StringVar(&frequency, "frequency", string(content.FrequencyManual), "scan frequency (manual, daily, weekly)")
	_ = add.MarkFlagRequired("owner")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("keywords")

	list := &cobra.Command{
		Use:   "list <owner-id>",
		Short: "List an owner's protected content",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			items, err := a.contents.ListByOwner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		}),
	}

	var u content.ProtectedContent
	var updType, updFrequency string
	update := &cobra.Command{
		Use:   "update <content-id>",
		Short: "Change a protected work; cached results are dropped when search terms change",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			c, err := a.contents.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("title") {
				c.Title = u.Title
			}
			if fs.Changed("url") {
				c.OriginalURL = u.OriginalURL
			}
			if fs.Changed("keywords") {
				c.Keywords = u.Keywords
			}
			if fs.Changed("type") {
				c.Type = content.Type(updType)
			}
			if fs.Changed("frequency") {
				c.ScanFrequency = content.Frequency(updFrequency)
			}
			if fs.Changed("active") {
				c.IsActive = u.IsActive
			}
			if err := a.contents.Update(cmd.Context(), c); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		}),
	}
	update.Flags().StringVar(&u.Title, "title", "", "title searched for")
	update.Flags().StringVar(&u.OriginalURL, "url", "", "canonical location of the original")
	update.Flags().StringSliceVar(&u.Keywords, "keywords", nil, "comma-separated search keywords")
	update.Flags().StringVar(&updType, "type", "", "content type (video, pdf)")
	update.Flags().StringVar(&updFrequency, "frequency", "", "scan frequency (manual, daily, weekly)")
	update.Flags().BoolVar(&u.IsActive, "active", true, "include in scheduled scans")

	del := &cobra.Command{
		Use:   "delete <content-id>",
		Short: "Remove a protected work with its infringements and cached results",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.contents.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(add, list, update, del)
	return cmd
}

func newPlanCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage user subscription plans",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <user-id> <plan>",
			Short: "Set a user's active plan (free, starter, pro, enterprise)",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
				plan, err := subscription.ParsePlan(args[1])
				if err != nil {
					return err
				}
				if err := a.plans.Set(cmd.Context(), args[0], plan); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now on the %s plan\n", args[0], plan)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Show the plan a user's scans run under",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, args []string) error {
				plan, err := a.plans.Lookup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (web search: %t)\n", plan, plan.AllowsWebSearch())
				return nil
			}),
		},
	)
	return cmd
}

func newBackupCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Write a snapshot now and prune old ones",
			Args:  cobra.NoArgs,
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
				info, err := a.backups.Run(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes) in %s\n", info.Filename, info.Size, a.backups.Dir())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List snapshots, newest first",
			Args:  cobra.NoArgs,
			RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
				list, err := a.backups.List()
				if err != nil {
					return err
				}
				if list == nil {
					list = []backup.Info{}
				}
				return printJSON(cmd.OutOrStdout(), list)
			}),
		},
	)
	return cmd
}
