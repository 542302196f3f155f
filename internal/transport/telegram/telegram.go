// Package telegram hosts the bot on the Telegram Bot API: it routes slash
// commands to the command service and implements the direct, broadcast and
// log sinks.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"ipwatch/internal/commands"
	"ipwatch/internal/notify"
	rtsup "ipwatch/internal/runtime/supervisor"
	logx "ipwatch/pkg/logx"
)

const defaultAPIBase = "https://api.telegram.org"

type Config struct {
	Token string
	// Channel is the broadcast chat: a numeric id or an @username.
	Channel         string
	ChannelThreadID int
	PollTimeout     time.Duration
	SendTimeout     time.Duration
	// APIBase overrides the Bot API endpoint.
	APIBase string
	// Offline skips the getMe handshake. Used by tests and the CLI.
	Offline bool
}

// recipient addresses a chat by id or @username.
type recipient string

func (r recipient) Recipient() string { return string(r) }

type Bot struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	http *http.Client

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if log.IsZero() {
		log = logx.Nop()
	}

	// The HTTP client must outlive one long poll.
	client := &http.Client{Timeout: cfg.PollTimeout + cfg.SendTimeout}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIBase,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  client,
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Bot{cfg: cfg, log: log, bot: b, http: &http.Client{Timeout: cfg.SendTimeout}}, nil
}

// Handle routes the slash commands to svc.
func (b *Bot) Handle(svc *commands.Service) {
	reply := func(fn func(ctx context.Context, c tele.Context) string) tele.HandlerFunc {
		return func(c tele.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
			defer cancel()
			text := fn(ctx, c)
			if sender := c.Sender(); sender != nil {
				b.log.Debug("command", logx.String("text", c.Text()), logx.Int64("from", sender.ID))
			}
			return c.Send(text, tele.ModeHTML)
		}
	}
	senderID := func(c tele.Context) string {
		if s := c.Sender(); s != nil {
			return strconv.FormatInt(s.ID, 10)
		}
		return ""
	}

	b.bot.Handle("/start", reply(func(context.Context, tele.Context) string { return commands.Help() }))
	b.bot.Handle("/help", reply(func(context.Context, tele.Context) string { return commands.Help() }))
	b.bot.Handle("/ip", reply(func(ctx context.Context, _ tele.Context) string { return svc.CurrentValue(ctx) }))
	b.bot.Handle("/ping", reply(func(ctx context.Context, _ tele.Context) string { return svc.Latency(ctx) }))
	b.bot.Handle("/subscribe", reply(func(ctx context.Context, c tele.Context) string { return svc.Subscribe(ctx, senderID(c)) }))
	b.bot.Handle("/unsubscribe", reply(func(ctx context.Context, c tele.Context) string { return svc.Unsubscribe(ctx, senderID(c)) }))
	b.bot.Handle("/subscribers", reply(func(ctx context.Context, _ tele.Context) string { return svc.ListSubscribers(ctx) }))
}

// Start runs the long-poll loop under a restart supervisor.
func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.sup != nil {
		return
	}
	b.sup = rtsup.New(ctx, rtsup.WithLogger(b.log))

	b.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.bot.Stop()
	})
	b.sup.GoRestart("telebot.poll", func(c context.Context) error {
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
}

// Stop ends polling. It never blocks longer than ctx or a short grace.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	b.runMu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		b.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

func (b *Bot) send(ctx context.Context, to tele.Recipient, text string, opt *tele.SendOptions) error {
	html := opt != nil && opt.ParseMode == tele.ModeHTML
	for _, chunk := range splitText(text, textLimit, html) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.sendChunk(ctx, to, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk bounds one Bot API call by ctx. telebot takes no context, so a
// stalled request is abandoned here and left to the client timeout.
func (b *Bot) sendChunk(ctx context.Context, to tele.Recipient, chunk string, opt *tele.SendOptions) error {
	done := make(chan error, 1)
	go func() {
		_, err := b.bot.Send(to, chunk, opt)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendDirect implements notify.DirectSink.
func (b *Bot) SendDirect(ctx context.Context, to, text string) error {
	if _, err := strconv.ParseInt(to, 10, 64); err != nil {
		return notify.Permanent(fmt.Errorf("invalid subscriber id %q", to))
	}
	return classify(b.send(ctx, recipient(to), text, &tele.SendOptions{ParseMode: tele.ModeHTML}))
}

// Broadcast implements notify.ChannelSink.
func (b *Bot) Broadcast(ctx context.Context, text string) error {
	if strings.TrimSpace(b.cfg.Channel) == "" {
		return nil
	}
	opt := &tele.SendOptions{ParseMode: tele.ModeHTML, ThreadID: b.cfg.ChannelThreadID}
	return classify(b.send(ctx, recipient(b.cfg.Channel), text, opt))
}

// SendLog implements logx.Sink. Log lines go to the broadcast channel as
// plain text.
func (b *Bot) SendLog(ctx context.Context, text string) error {
	if strings.TrimSpace(b.cfg.Channel) == "" {
		return nil
	}
	return b.send(ctx, recipient(b.cfg.Channel), text, &tele.SendOptions{ThreadID: b.cfg.ChannelThreadID})
}

// Lookup implements commands.Directory.
func (b *Bot) Lookup(ctx context.Context, id string) (string, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return "", notify.Permanent(fmt.Errorf("invalid subscriber id %q", id))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chat, err := b.bot.ChatByID(n)
	if err != nil {
		return "", classify(err)
	}
	return displayName(chat), nil
}

func displayName(c *tele.Chat) string {
	if c == nil {
		return ""
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	if name := strings.TrimSpace(c.FirstName + " " + c.LastName); name != "" {
		return name
	}
	return c.Title
}

// Latency implements commands.Pinger as the round trip of getMe.
func (b *Bot) Latency(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := b.bot.Raw("getMe", map[string]string{}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// UpdateMenuCommands publishes the command menu (setMyCommands). It is a
// no-op when the list did not change since the last successful call.
func (b *Bot) UpdateMenuCommands(ctx context.Context, cmds []commands.MenuCommand) error {
	b.menuMu.Lock()
	defer b.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Name))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == b.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []cmd `json:"commands"`
	}{Commands: make([]cmd, 0, len(cmds))}
	for _, c := range cmds {
		if c.Name == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Name
		}
		if len(d) > 256 {
			d = d[:256]
		}
		payload.Commands = append(payload.Commands, cmd{Command: c.Name, Description: d})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := b.cfg.APIBase + "/bot" + strings.TrimSpace(b.cfg.Token) + "/setMyCommands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}

	b.menuHash = sum
	b.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}
