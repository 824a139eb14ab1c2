package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"PostForge/internal/app"
	"PostForge/internal/usecase"
)

// QueueCmd returns the queue command.
func QueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued posts in publish order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			records, err := application.ListQueue(cmd.Context())
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records, "Queue is empty.")
			return nil
		},
	}
}

// PublishedCmd returns the published command.
func PublishedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "published",
		Short: "List published posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			records, err := application.ListPublished(cmd.Context())
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records, "Nothing published yet.")
			return nil
		},
	}
}

// ShowCmd returns the show command.
func ShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show one post record with its research and critiques",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			rec, collection, err := application.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRecord(cmd.OutOrStdout(), rec, collection)
			return nil
		},
	}
}

// EditCmd returns the edit command.
func EditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <record-id>",
		Short: "Replace the final text of a queued post",
		Long: `Replace the final text of a queued post. The new text comes from --text,
from --file, or from standard input when --file is "-".

Examples:
  postforge edit 0192f3c4-... --text "<b>Title</b> new body"
  postforge edit 0192f3c4-... --file post.html`,
		Args: cobra.ExactArgs(1),
		RunE: runEdit,
	}
	cmd.Flags().String("text", "", "New final text")
	cmd.Flags().String("file", "", "Read the new final text from a file (- for stdin)")
	return cmd
}

func runEdit(cmd *cobra.Command, args []string) error {
	text, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")

	switch {
	case text != "" && file != "":
		return fmt.Errorf("use either --text or --file")
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("new text is empty")
	}

	application, err := openApp(cmd, app.Options{})
	if err != nil {
		return err
	}
	defer application.Close()
	rec, err := application.Edit(cmd.Context(), args[0], text)
	if errors.Is(err, app.ErrNotQueued) {
		return fmt.Errorf("%s was already published and can no longer be edited", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s updated %s\n", okColor.Sprint("✓"), idColor.Sprint(rec.ID))
	return nil
}

// PublishCmd returns the publish command.
func PublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish the oldest queued post now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			result, err := application.PublishNow(cmd.Context())
			for _, id := range result.Recovered {
				fmt.Fprintf(cmd.OutOrStdout(), "%s finished interrupted publish of %s\n", warnColor.Sprint("!"), id)
			}
			if err != nil {
				var perr *usecase.PublishError
				if errors.As(err, &perr) {
					return fmt.Errorf("%s stays queued after %d attempt(s): %w", perr.RecordID, perr.Attempts, perr.Err)
				}
				return err
			}
			if result.Empty {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s published %s\n", okColor.Sprint("✓"), idColor.Sprint(result.Record.ID))
			return nil
		},
	}
}
