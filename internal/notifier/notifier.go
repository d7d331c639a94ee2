// Package notifier announces verified students to external channels.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"attendsync/internal/httputil"
)

type ChannelType string

const (
	ChannelTypeLog     ChannelType = "log"
	ChannelTypeWebhook ChannelType = "webhook"
	ChannelTypeDiscord ChannelType = "discord"
	ChannelTypeNtfy    ChannelType = "ntfy"
)

// Channel is one configured announcement destination.
type Channel struct {
	Name    string            `yaml:"name" json:"name"`
	Type    ChannelType       `yaml:"type" json:"type"`
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Topic   string            `yaml:"topic" json:"topic,omitempty"`
	Token   string            `yaml:"token" json:"-"`
}

func (c Channel) Validate() error {
	switch c.Type {
	case ChannelTypeLog:
		return nil
	case ChannelTypeWebhook, ChannelTypeDiscord:
		if _, err := httputil.NormalizeBaseURL(c.URL); err != nil {
			return fmt.Errorf("channel %q: %w", c.Name, err)
		}
		if c.Method != "" && c.Method != http.MethodPost && c.Method != http.MethodPut {
			return fmt.Errorf("channel %q: method must be POST or PUT", c.Name)
		}
		return nil
	case ChannelTypeNtfy:
		if _, err := httputil.NormalizeBaseURL(c.URL); err != nil {
			return fmt.Errorf("channel %q: %w", c.Name, err)
		}
		if c.Topic == "" {
			return fmt.Errorf("channel %q: ntfy topic is required", c.Name)
		}
		return nil
	default:
		return fmt.Errorf("channel %q: unknown type %q", c.Name, c.Type)
	}
}

// Announcement is a single user-facing message, such as "Verified: Ada".
type Announcement struct {
	Event      string    `json:"event"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

func Verified(name string, at time.Time) Announcement {
	return Announcement{
		Event:      "attendance_verified",
		Subject:    name,
		Message:    "Verified: " + name,
		OccurredAt: at,
	}
}

type Notifier struct {
	client   *http.Client
	channels []Channel
}

type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// New validates every channel up front.
func New(channels []Channel, opts ...Option) (*Notifier, error) {
	for _, ch := range channels {
		if err := ch.Validate(); err != nil {
			return nil, err
		}
	}
	n := &Notifier{client: httputil.NewClient(), channels: channels}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

func (n *Notifier) Channels() []Channel {
	return n.channels
}

// Notify sends a to every channel in parallel and joins the failures.
func (n *Notifier) Notify(ctx context.Context, a Announcement) error {
	if len(n.channels) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range n.channels {
		g.Go(func() error {
			if err := n.send(ctx, ch, a); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %w", errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, ch Channel, a Announcement) error {
	switch ch.Type {
	case ChannelTypeLog:
		log.Printf("notifier: %s", a.Message)
		return nil
	case ChannelTypeWebhook:
		return n.sendWebhook(ctx, ch, a)
	case ChannelTypeDiscord:
		return n.sendDiscord(ctx, ch, a)
	case ChannelTypeNtfy:
		return n.sendNtfy(ctx, ch, a)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

func (n *Notifier) sendWebhook(ctx context.Context, ch Channel, a Announcement) error {
	method := ch.Method
	if method == "" {
		method = http.MethodPost
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, ch.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}
	return n.do(req, "webhook")
}

func (n *Notifier) sendDiscord(ctx context.Context, ch Channel, a Announcement) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       a.Message,
			"description": fmt.Sprintf("%s was verified at %s", a.Subject, a.OccurredAt.Local().Format("15:04:05")),
			"color":       0x2ECC71,
			"timestamp":   a.OccurredAt.Format(time.RFC3339),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, "discord")
}

func (n *Notifier) sendNtfy(ctx context.Context, ch Channel, a Announcement) error {
	ntfyURL := strings.TrimRight(ch.URL, "/") + "/" + url.PathEscape(ch.Topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ntfyURL, strings.NewReader(a.Message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Title", "Attendance")
	req.Header.Set("Tags", "white_check_mark")
	if ch.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ch.Token)
	}
	return n.do(req, "ntfy")
}

func (n *Notifier) do(req *http.Request, kind string) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", kind, resp.StatusCode)
	}
	return nil
}
