// Package slackbot answers questions asked in Slack over a socket-mode
// connection. Replies always go to the thread of the asking message.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/sourcegraph/conc"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

const (
	respondedTTL      = time.Hour
	threadTTL         = 6 * time.Hour
	maxThreadMessages = 12
	maxMessageLen     = 3900
	processingEmoji   = "hourglass_flowing_sand"
)

var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+(?:\|[^>]+)?>`)

// Config configures the bot.
type Config struct {
	BotToken string
	AppToken string
	MaxRows  int
}

// messenger is the slice of the Slack Web API the bot writes through.
type messenger interface {
	Post(ctx context.Context, channel, threadTS, text string) error
	React(ctx context.Context, channel, ts, emoji string) error
	Unreact(ctx context.Context, channel, ts, emoji string) error
}

// Bot handles app mentions and direct messages.
type Bot struct {
	cfg       Config
	api       *slack.Client
	out       messenger
	svc       ports.QueryService
	botUserID string
	log       zerolog.Logger

	responded *ttlcache.Cache[string, struct{}]
	threads   *ttlcache.Cache[string, []ports.Message]
	threadsMu sync.Mutex // serialises read-modify-write of thread histories
	inflight  conc.WaitGroup
}

// New creates a Bot. Both tokens are required for socket mode.
func New(cfg Config, svc ports.QueryService, log zerolog.Logger) (*Bot, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, errors.New("slack: SLACK_BOT_TOKEN and SLACK_APP_TOKEN are required")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, errors.New("slack: SLACK_APP_TOKEN must be an app-level token (xapp-...)")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return newBot(cfg, api, apiMessenger{api: api}, svc, log), nil
}

func newBot(cfg Config, api *slack.Client, out messenger, svc ports.QueryService, log zerolog.Logger) *Bot {
	return &Bot{
		cfg:       cfg,
		api:       api,
		out:       out,
		svc:       svc,
		log:       log.With().Str("component", "slack").Logger(),
		responded: ttlcache.New(ttlcache.WithTTL[string, struct{}](respondedTTL)),
		threads:   ttlcache.New(ttlcache.WithTTL[string, []ports.Message](threadTTL)),
	}
}

// Run connects over socket mode and handles events until ctx ends, then
// waits for in-flight replies.
func (b *Bot) Run(ctx context.Context) error {
	if auth, err := b.api.AuthTestContext(ctx); err == nil {
		b.botUserID = auth.UserID
		b.log.Info().Str("user_id", auth.UserID).Str("team", auth.Team).Msg("slack auth test successful")
	} else {
		b.log.Warn().Err(err).Msg("slack auth test failed")
	}

	go b.responded.Start()
	go b.threads.Start()
	defer b.responded.Stop()
	defer b.threads.Stop()

	client := socketmode.New(b.api)
	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				b.log.Info().Msg("socketmode: connecting")
			case socketmode.EventTypeConnected:
				b.log.Info().Msg("socketmode: connected")
			case socketmode.EventTypeConnectionError:
				b.log.Error().Any("error", evt.Data).Msg("socketmode: connection error")
			case socketmode.EventTypeEventsAPI:
				e, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				if msg := b.incoming(e); msg != nil {
					b.inflight.Go(func() { b.respond(ctx, msg) })
				}
			}
		}
	}()

	b.log.Info().Msg("slack bot running in socket mode")
	err := client.RunContext(ctx)
	b.inflight.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("slack client error: %w", err)
	}
	return nil
}

// message is a question addressed to the bot.
type message struct {
	channel  string
	user     string
	text     string
	ts       string
	threadTS string
}

func (m *message) key() string { return m.channel + ":" + m.ts }

// thread is the timestamp replies go under.
func (m *message) thread() string {
	if m.threadTS != "" {
		return m.threadTS
	}
	return m.ts
}

// incoming extracts a question from an Events API callback: app mentions in
// channels and plain messages in DMs. Bot messages and edits are ignored.
func (b *Bot) incoming(e slackevents.EventsAPIEvent) *message {
	if e.Type != slackevents.CallbackEvent {
		return nil
	}
	var m *message
	switch ev := e.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return nil
		}
		m = &message{channel: ev.Channel, user: ev.User, text: ev.Text, ts: ev.TimeStamp, threadTS: ev.ThreadTimeStamp}
	case *slackevents.MessageEvent:
		if ev.ChannelType != "im" || ev.SubType != "" || ev.BotID != "" {
			return nil
		}
		if b.botUserID != "" && ev.User == b.botUserID {
			return nil
		}
		m = &message{channel: ev.Channel, user: ev.User, text: ev.Text, ts: ev.TimeStamp, threadTS: ev.ThreadTimeStamp}
	default:
		return nil
	}
	m.text = strings.TrimSpace(mentionRe.ReplaceAllString(m.text, ""))
	if m.text == "" {
		return nil
	}
	return m
}

// respond answers one message in its thread, at most once per message.
func (b *Bot) respond(ctx context.Context, m *message) {
	if _, seen := b.responded.GetOrSet(m.key(), struct{}{}); seen {
		b.log.Debug().Str("message", m.key()).Msg("skipping already answered message")
		metrics.SlackMessagesTotal.WithLabelValues("duplicate").Inc()
		return
	}
	log := b.log.With().Str("channel", m.channel).Str("user", m.user).Str("ts", m.ts).Logger()
	log.Info().Str("text", utils.Truncate(m.text, 100)).Msg("answering message")

	if err := b.out.React(ctx, m.channel, m.ts, processingEmoji); err != nil {
		log.Debug().Err(err).Msg("failed to add reaction")
	}
	defer func() {
		if err := b.out.Unreact(context.WithoutCancel(ctx), m.channel, m.ts, processingEmoji); err != nil {
			log.Debug().Err(err).Msg("failed to remove reaction")
		}
	}()

	resp, err := b.svc.RunWithHistory(ctx, m.text, b.threadHistory(m.thread()))
	reply := FormatReply(resp, err, b.cfg.MaxRows)
	if err := b.out.Post(ctx, m.channel, m.thread(), reply); err != nil {
		log.Error().Err(err).Msg("failed to post reply")
		metrics.SlackMessagesTotal.WithLabelValues("error").Inc()
		return
	}

	b.remember(m.thread(), m.text, reply)

	status := "success"
	if err != nil || (resp != nil && resp.Status == domain.StatusError) {
		status = "failed"
	}
	metrics.SlackMessagesTotal.WithLabelValues(status).Inc()
}

// threadHistory returns a copy of the conversation kept for thread.
func (b *Bot) threadHistory(thread string) []ports.Message {
	b.threadsMu.Lock()
	defer b.threadsMu.Unlock()
	if item := b.threads.Get(thread); item != nil {
		return slices.Clone(item.Value())
	}
	return nil
}

// remember appends one question and reply to the latest history of thread.
func (b *Bot) remember(thread, question, reply string) {
	b.threadsMu.Lock()
	defer b.threadsMu.Unlock()

	var history []ports.Message
	if item := b.threads.Get(thread); item != nil {
		history = slices.Clone(item.Value())
	}
	history = append(history,
		ports.Message{Role: ports.RoleUser, Content: question},
		ports.Message{Role: ports.RoleAssistant, Content: reply},
	)
	if len(history) > maxThreadMessages {
		history = history[len(history)-maxThreadMessages:]
	}
	b.threads.Set(thread, history, ttlcache.DefaultTTL)
}

// Report posts a scheduled run to channel as a new message.
func (b *Bot) Report(ctx context.Context, channel, name string, resp *domain.FinalResponse, runErr error) error {
	text := fmt.Sprintf("*Scheduled question: %s*\n%s", name, FormatReply(resp, runErr, b.cfg.MaxRows))
	return b.out.Post(ctx, channel, "", text)
}

type apiMessenger struct {
	api *slack.Client
}

func (m apiMessenger) Post(ctx context.Context, channel, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, _, err := m.api.PostMessageContext(ctx, channel, opts...)
	return err
}

func (m apiMessenger) React(ctx context.Context, channel, ts, emoji string) error {
	return m.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(channel, ts))
}

func (m apiMessenger) Unreact(ctx context.Context, channel, ts, emoji string) error {
	return m.api.RemoveReactionContext(ctx, emoji, slack.NewRefToMessage(channel, ts))
}
