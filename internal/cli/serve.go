package cli

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/server"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/slackbot"
	"github.com/ZanzyTHEbar/dbagent/internal/app"
)

type ServeCmd struct {
	flags *globalFlags
	addr  string
	slack bool
}

func NewServeCmd(flags *globalFlags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, MCP endpoint, event stream and metrics, and run scheduled questions",
		Args:  cobra.NoArgs,
		RunE: withApp(c.flags, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			cfg := a.Config
			if c.addr != "" {
				cfg.Server.Addr = c.addr
			}

			srv, err := server.New(server.Config{
				Addr:            cfg.Server.Addr,
				Tokens:          cfg.Server.Tokens,
				ReadTimeout:     cfg.Server.ReadTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				MaxRows:         cfg.Formatter.MaxRows,
				Version:         c.flags.build.Version,
			}, server.Deps{
				Service: a.Service,
				Runs:    a.History,
				Events:  a.Bus,
				Ready:   a.Ready,
			}, a.Log)
			if err != nil {
				return err
			}

			var bot *slackbot.Bot
			if c.slack || slackConfigured(a) {
				bot, err = newSlackBot(a)
				if err != nil {
					return err
				}
			}

			sched, err := a.StartScheduler(ctx, reporter(bot))
			if err != nil {
				return err
			}
			defer sched.Stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if bot != nil {
				g.Go(func() error { return bot.Run(gctx) })
			}
			return g.Wait()
		}),
	}
	cmd.Flags().StringVar(&c.addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&c.slack, "slack", false, "also run the Slack bot (on by default when both Slack tokens are set)")
	return cmd
}

type SlackCmd struct {
	flags *globalFlags
}

func NewSlackCmd(flags *globalFlags) *SlackCmd {
	return &SlackCmd{flags: flags}
}

func (c *SlackCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "slack",
		Short: "Answer questions in Slack over socket mode, and run scheduled questions",
		Args:  cobra.NoArgs,
		RunE: withApp(c.flags, func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			bot, err := newSlackBot(a)
			if err != nil {
				return err
			}
			sched, err := a.StartScheduler(ctx, bot)
			if err != nil {
				return err
			}
			defer sched.Stop()
			return bot.Run(ctx)
		}),
	}
}

func slackConfigured(a *app.App) bool {
	return a.Config.Slack.BotToken != "" && a.Config.Slack.AppToken != ""
}

func newSlackBot(a *app.App) (*slackbot.Bot, error) {
	return slackbot.New(slackbot.Config{
		BotToken: a.Config.Slack.BotToken,
		AppToken: a.Config.Slack.AppToken,
		MaxRows:  a.Config.Formatter.MaxRows,
	}, a.Service, a.Log)
}

// reporter avoids handing the scheduler a typed nil.
func reporter(bot *slackbot.Bot) app.Reporter {
	if bot == nil {
		return nil
	}
	return bot
}
