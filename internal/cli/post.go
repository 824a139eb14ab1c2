package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"PostForge/internal/app"
	"PostForge/internal/domain"
)

const defaultRequester = "cli"

// PostCmd returns the post command.
func PostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Run the content pipeline for a brief and queue the result",
		Long: `Research the brief, write a draft, run the four critics in parallel and
rewrite the draft with their findings. The final post is added to the queue.

Interrupting the command before the post is queued cancels the run.

Examples:
  postforge post --type case --audience leads --takeaway "ship smaller batches"`,
		Args: cobra.NoArgs,
		RunE: runPost,
	}
	cmd.Flags().String("type", "", "Content type key (topic angle)")
	cmd.Flags().String("audience", "", "Target audience")
	cmd.Flags().String("takeaway", "", "Key takeaway the post must land")
	cmd.Flags().String("extra", "", "Extra points to cover")
	cmd.Flags().String("requester", defaultRequester, "Requester identity for concurrency control")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("takeaway")
	return cmd
}

func runPost(cmd *cobra.Command, _ []string) error {
	brief := domain.Brief{}
	brief.TopicAngle, _ = cmd.Flags().GetString("type")
	brief.Audience, _ = cmd.Flags().GetString("audience")
	brief.KeyTakeaway, _ = cmd.Flags().GetString("takeaway")
	brief.ExtraPoints, _ = cmd.Flags().GetString("extra")
	requester, _ := cmd.Flags().GetString("requester")

	application, err := openApp(cmd, app.Options{Progress: progressPrinter(cmd.ErrOrStderr())})
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rec, err := application.Post(ctx, requester, brief)
	if err != nil {
		return describeFailure(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s queued as %s\n\n%s\n", okColor.Sprint("✓"), idColor.Sprint(rec.ID), rec.FinalText)
	return nil
}

// AutopostCmd returns the autopost command.
func AutopostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopost",
		Short: "Write and queue a post for the next pending content-plan topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			requester, _ := cmd.Flags().GetString("requester")
			application, err := openApp(cmd, app.Options{Progress: progressPrinter(cmd.ErrOrStderr())})
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rec, err := application.Autopost(ctx, requester)
			if errors.Is(err, app.ErrNoPendingTopic) {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending topics. Run 'postforge plan generate' first.")
				return nil
			}
			if err != nil {
				return describeFailure(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s queued %s for plan %s topic %d\n",
				okColor.Sprint("✓"), idColor.Sprint(rec.ID), rec.Origin.PlanID, rec.Origin.TopicID)
			return nil
		},
	}
	cmd.Flags().String("requester", defaultRequester, "Requester identity for concurrency control")
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// describeFailure adds the failing stage to pipeline errors.
func describeFailure(err error) error {
	var failure *domain.Failure
	if errors.As(err, &failure) {
		return fmt.Errorf("%s at %s: %w", errColor.Sprint("pipeline failed"), failure.Stage, failure.Err)
	}
	if errors.Is(err, domain.ErrBusy) {
		return fmt.Errorf("another run is already in progress for this requester")
	}
	return err
}
