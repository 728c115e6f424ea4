package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"clanwatch/internal/transport"
	logx "clanwatch/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter delivers messages through the Telegram Bot API.
// The reminder engine is send-only; inbound updates are handled by the
// command layer and are not part of this adapter.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Deliver(ctx context.Context, to transport.ChannelRef, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
	}

	msg, err := a.bot.Send(chat, text, sendOpt)
	if err != nil {
		return transport.MessageRef{}, mapError(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}
	return nil
}

// mapError folds Telegram API errors into the transport taxonomy so callers
// can decide between drop, retry-after, and plain retry without knowing
// telebot internals.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		after := time.Duration(flood.RetryAfter) * time.Second
		if after <= 0 {
			after = time.Second
		}
		return &transport.RateLimitedError{After: after, Err: err}
	}

	for _, perm := range []error{
		tele.ErrChatNotFound,
		tele.ErrBlockedByUser,
		tele.ErrKickedFromGroup,
		tele.ErrKickedFromSuperGroup,
		tele.ErrNotStartedByUser,
		tele.ErrUnauthorized,
	} {
		if errors.Is(err, perm) {
			return errors.Join(transport.ErrPermissionDenied, err)
		}
	}

	// Telegram reports revoked topic/posting rights with a 403 description
	// that telebot has no sentinel for.
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return errors.Join(transport.ErrPermissionDenied, err)
	}

	return err
}
