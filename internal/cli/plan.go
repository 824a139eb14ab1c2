package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"PostForge/internal/app"
	"PostForge/internal/domain"
)

// PlanCmd returns the plan command group.
func PlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage the weekly content plan",
	}
	cmd.AddCommand(planGenerateCmd())
	cmd.AddCommand(planShowCmd())
	cmd.AddCommand(planRefineCmd())
	return cmd
}

func planGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Research current trends and generate a seven-day plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			plan, err := application.GeneratePlan(cmd.Context())
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the latest content plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			plan, err := application.LatestPlan(cmd.Context())
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No content plan yet.")
				return nil
			}
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

func planRefineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refine <feedback>",
		Short: "Regenerate the latest plan with feedback, keeping used topics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close()
			plan, err := application.RefinePlan(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}
