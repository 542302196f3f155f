// Package commands implements the chat command surface independent of the
// chat platform. Every handler returns the reply text; failures become a
// failure reply, never a panic or a dropped request.
package commands

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"ipwatch/internal/notify"
	"ipwatch/internal/resolver"
	"ipwatch/internal/state"
	"ipwatch/internal/subscription"
	logx "ipwatch/pkg/logx"
)

// Pinger measures the round trip to the chat platform.
type Pinger interface {
	Latency(ctx context.Context) (time.Duration, error)
}

// Directory resolves a subscriber id to a display name. A permanent error
// (see notify.IsPermanent) means the id no longer exists.
type Directory interface {
	Lookup(ctx context.Context, id string) (string, error)
}

type Deps struct {
	Resolver resolver.Resolver
	State    *state.Manager
	Registry *subscription.Registry
	Direct   notify.DirectSink
	Dir      Directory
	Pinger   Pinger
	Label    string
	Log      logx.Logger
	Now      func() time.Time
}

type Service struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{d: d, log: log}
}

func (s *Service) watched() string {
	if l := strings.TrimSpace(s.d.Label); l != "" {
		return html.EscapeString(l) + "'s IP address"
	}
	return "the IP address"
}

func code(v string) string { return "<code>" + html.EscapeString(v) + "</code>" }

func failure(what string, err error) string {
	return fmt.Sprintf("Failed to %s:\n%s", what, code(err.Error()))
}

// CurrentValue resolves the value live. When the lookup fails it falls back
// to the last recorded value.
func (s *Service) CurrentValue(ctx context.Context) string {
	snap := s.d.State.Snapshot()
	v, err := s.d.Resolver.Resolve(ctx)
	if err != nil {
		s.log.Warn("ip command: resolve failed", logx.Err(err))
		if snap.LastValue == "" {
			return failure("get IP address", err)
		}
		return fmt.Sprintf("Lookup failed, last known IP address:\n%s%s", code(snap.LastValue), s.since(snap))
	}
	out := "IP address:\n" + code(v)
	if v == snap.LastValue {
		out += s.since(snap)
	}
	return out
}

func (s *Service) since(r state.Record) string {
	if r.ChangedAt.IsZero() {
		return ""
	}
	return "\nunchanged since " + humanize.RelTime(r.ChangedAt, s.d.Now(), "ago", "from now")
}

func (s *Service) Latency(ctx context.Context) string {
	if s.d.Pinger == nil {
		return "Pong!"
	}
	d, err := s.d.Pinger.Latency(ctx)
	if err != nil {
		s.log.Warn("ping command failed", logx.Err(err))
		return failure("get latency", err)
	}
	return fmt.Sprintf("Pong! %dms", d.Round(time.Millisecond).Milliseconds())
}

// Subscribe adds id and sends a confirmation message with the current value.
// The confirmation is best effort; the subscription stands if it fails.
func (s *Service) Subscribe(ctx context.Context, id string) string {
	already, err := s.d.Registry.Subscribe(ctx, id)
	if err != nil {
		s.log.Error("subscribe failed", logx.String("subscriber", id), logx.Err(err))
		return failure("subscribe", err)
	}
	if already {
		return "You are already subscribed to IP change alerts."
	}
	s.log.Info("subscribed", logx.String("subscriber", id))

	if s.d.Direct != nil {
		cur := s.d.State.LastValue()
		if v, rerr := s.d.Resolver.Resolve(ctx); rerr == nil {
			cur = v
		}
		msg := fmt.Sprintf("You have subscribed to IP change alerts. You will be notified here when %s changes.\n\nTo unsubscribe, use /unsubscribe.", s.watched())
		if cur != "" {
			msg += "\n\nThe current IP address is:\n" + code(cur)
		}
		if err := s.d.Direct.SendDirect(ctx, id, msg); err != nil {
			s.log.Warn("subscription confirmation not delivered", logx.String("subscriber", id), logx.Err(err))
		}
	}
	return "Your subscription to IP change alerts has been confirmed."
}

func (s *Service) Unsubscribe(ctx context.Context, id string) string {
	removed, err := s.d.Registry.Unsubscribe(ctx, id)
	if err != nil {
		s.log.Error("unsubscribe failed", logx.String("subscriber", id), logx.Err(err))
		return failure("unsubscribe", err)
	}
	if !removed {
		return "You are not subscribed to IP change alerts."
	}
	s.log.Info("unsubscribed", logx.String("subscriber", id))
	return "You have unsubscribed from IP change alerts."
}

// ListSubscribers names every subscriber. Ids the directory reports as gone
// are pruned in the same call.
func (s *Service) ListSubscribers(ctx context.Context) string {
	ids := s.d.Registry.List()
	if len(ids) == 0 {
		return "No subscribers."
	}
	lines := make([]string, 0, len(ids))
	var gone []string
	for _, id := range ids {
		name := ""
		if s.d.Dir != nil {
			n, err := s.d.Dir.Lookup(ctx, id)
			switch {
			case err == nil:
				name = n
			case notify.IsPermanent(err):
				gone = append(gone, id)
				continue
			default:
				s.log.Debug("subscriber lookup failed", logx.String("subscriber", id), logx.Err(err))
			}
		}
		if name == "" {
			lines = append(lines, html.EscapeString(id))
		} else {
			lines = append(lines, html.EscapeString(id+": "+name))
		}
	}
	if len(gone) > 0 {
		s.log.Warn("subscriber lookup: removing unknown ids", logx.Strings("subscribers", gone))
		if _, err := s.d.Registry.Prune(ctx, gone); err != nil {
			s.log.Error("prune failed", logx.Err(err))
		}
	}
	if len(lines) == 0 {
		return "No subscribers."
	}
	return "Subscribers:\n<code>" + strings.Join(lines, "\n") + "</code>"
}

// Help lists the available commands.
func Help() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range Menu {
		fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// MenuCommand is one entry of the platform command menu.
type MenuCommand struct {
	Name        string
	Description string
}

var Menu = []MenuCommand{
	{Name: "ip", Description: "Get the current external IP address"},
	{Name: "ping", Description: "Get the bot's latency"},
	{Name: "subscribe", Description: "Get IP change alerts by direct message"},
	{Name: "unsubscribe", Description: "Stop IP change alerts"},
	{Name: "subscribers", Description: "List all subscribers"},
	{Name: "help", Description: "Show available commands"},
}
