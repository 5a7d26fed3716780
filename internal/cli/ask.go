package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/eventbus"
	"github.com/ZanzyTHEbar/dbagent/internal/app"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/formatter"
)

type AskCmd struct {
	flags    *globalFlags
	output   string
	progress bool
}

func NewAskCmd(flags *globalFlags) *AskCmd {
	return &AskCmd{flags: flags}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer one question and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(c.flags, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			q, err := question(args)
			if err != nil {
				return err
			}
			if c.progress {
				stop := showProgress(a.Bus, cmd.ErrOrStderr())
				defer stop()
			}

			resp, runErr := a.Service.Run(ctx, q)
			if resp == nil {
				return runErr
			}
			if err := formatter.Render(cmd.OutOrStdout(), c.output, resp, a.Config.Formatter.MaxRows); err != nil {
				return err
			}
			return runErr
		}),
	}
	cmd.Flags().StringVarP(&c.output, "output", "o", formatter.OutputText, "output format: text, json, table")
	cmd.Flags().BoolVar(&c.progress, "progress", stderrIsTerminal(), "draw task progress on stderr")
	return cmd
}

// showProgress draws a task progress bar for the plan of the next run. The
// returned func detaches it.
func showProgress(bus *eventbus.SimpleEventBus, out io.Writer) func() {
	sub, err := bus.SubscribeAll(len(domain.AllTopics) * 8)
	if err != nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		var bar *domain.TaskProgressBar
		for event := range sub {
			switch {
			case event.Topic == domain.PlanCreated:
				if plan, ok := event.Data.(*domain.Plan); ok && len(plan.Tasks) > 0 {
					bar = domain.NewTaskProgressBar(out, len(plan.Tasks))
					bar.Print()
				}
			case bar != nil:
				bar.Observe(event)
			}
		}
	}()
	return func() {
		bus.UnsubscribeAll(sub)
		close(sub)
		<-done
	}
}

type PlanCmd struct {
	flags  *globalFlags
	output string
}

func NewPlanCmd(flags *globalFlags) *PlanCmd {
	return &PlanCmd{flags: flags}
}

func (c *PlanCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <question...>",
		Short: "Show how a question would be split into database tasks, without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(c.flags, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			q, err := question(args)
			if err != nil {
				return err
			}
			plan, err := a.Service.Analyze(ctx, q)
			if err != nil {
				return err
			}
			if c.output == formatter.OutputJSON {
				return formatter.RenderJSON(cmd.OutOrStdout(), plan)
			}
			return formatter.RenderPlan(cmd.OutOrStdout(), plan)
		}),
	}
	cmd.Flags().StringVarP(&c.output, "output", "o", formatter.OutputText, "output format: text, json")
	return cmd
}

// stderrIsTerminal reports whether progress output would reach a person.
func stderrIsTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
