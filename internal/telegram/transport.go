package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/antoniostano/botfleet/internal/bots"
	"github.com/antoniostano/botfleet/internal/store"
)

// Mode selects how Telegram updates reach the transport.
type Mode string

const (
	// ModeWebhook registers a webhook with Telegram and receives updates
	// through the dispatch gateway's shared route.
	ModeWebhook Mode = "webhook"
	// ModePolling pulls updates over long polling, for deployments
	// without a public URL.
	ModePolling Mode = "polling"
)

// Config is the platform-level Telegram configuration shared by all
// session transports.
type Config struct {
	Mode          Mode
	PublicBaseURL string
	// APIBaseURL overrides the Telegram API endpoint; used by tests to
	// point the bot at a local fake.
	APIBaseURL string
	SkipGetMe  bool
}

// Transport connects one session's bot token to Telegram, in webhook or
// long-polling mode, and normalizes updates into the runtime's sink.
type Transport struct {
	cfg    Config
	sess   store.Session
	sink   bots.Sink
	logger *slog.Logger

	bot    *bot.Bot
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, sess store.Session, sink bots.Sink, logger *slog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		sess:   sess,
		sink:   sink,
		logger: logger.With("session_id", sess.ID, "transport", "telegram"),
	}
}

// Factory adapts New to the shape the platform manager expects.
func Factory(cfg Config, logger *slog.Logger) bots.TransportFactory {
	return func(sess store.Session, sink bots.Sink) (bots.Transport, error) {
		if strings.TrimSpace(sess.APIToken) == "" {
			return nil, fmt.Errorf("session %d has no bot token", sess.ID)
		}
		return New(cfg, sess, sink, logger), nil
	}
}

func (t *Transport) Start(ctx context.Context) error {
	opts := []bot.Option{}
	if t.cfg.APIBaseURL != "" {
		opts = append(opts, bot.WithServerURL(t.cfg.APIBaseURL))
	}
	if t.cfg.SkipGetMe {
		opts = append(opts, bot.WithSkipGetMe())
	}

	b, err := bot.New(t.sess.APIToken, opts...)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, t.handleUpdate)
	t.bot = b

	t.runCtx, t.cancel = context.WithCancel(context.Background())

	switch t.cfg.Mode {
	case ModeWebhook:
		url := fmt.Sprintf("%s/webhook/%d", strings.TrimRight(t.cfg.PublicBaseURL, "/"), t.sess.ID)
		if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{URL: url}); err != nil {
			t.cancel()
			return fmt.Errorf("set webhook: %w", err)
		}
		t.logger.Info("webhook registered", "url", url)
	case ModePolling:
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			b.Start(t.runCtx)
		}()
		t.logger.Info("long polling started")
	default:
		t.cancel()
		return fmt.Errorf("unknown telegram mode %q", t.cfg.Mode)
	}
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot == nil {
		return nil
	}

	if t.cfg.Mode == ModeWebhook {
		if _, err := t.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			t.logger.Warn("delete webhook failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("polling loop drain: %w", ctx.Err())
	}
}

// Feed parses a raw webhook payload and runs it through the bot's
// registered handlers in the caller's goroutine.
func (t *Transport) Feed(payload []byte) error {
	var upd models.Update
	if err := json.Unmarshal(payload, &upd); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	t.bot.ProcessUpdate(t.runCtx, &upd)
	return nil
}

func (t *Transport) Send(ctx context.Context, senderID, text string) error {
	var chatID any = senderID
	if id, err := strconv.ParseInt(senderID, 10, 64); err == nil {
		chatID = id
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (t *Transport) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message

	in := bots.Inbound{
		SenderID:     strconv.FormatInt(msg.Chat.ID, 10),
		Text:         msg.Text,
		FirstContact: strings.HasPrefix(msg.Text, "/start"),
	}
	if msg.From != nil {
		in.Username = msg.From.Username
		in.DisplayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	if err := t.sink(in); err != nil {
		t.logger.Warn("inbound update dropped", "chat_id", msg.Chat.ID, "error", err)
	}
}
