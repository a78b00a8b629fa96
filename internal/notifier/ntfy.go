// Package notifier pushes incident alerts and digests to an ntfy server.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/setevik/sosdesk/internal/config"
	"github.com/setevik/sosdesk/internal/incident"
)

// Ntfy sends incident notifications to an ntfy server.
type Ntfy struct {
	cfg    *config.Config
	loc    *time.Location
	client *http.Client
}

// NewNtfy creates a new Ntfy notifier. Times in message bodies are rendered
// in the society timezone.
func NewNtfy(cfg *config.Config) *Ntfy {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}
	return &Ntfy{
		cfg: cfg,
		loc: loc,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Report sends an incident notification to ntfy if the incident type is in
// the configured alert types. It reports whether a notification was sent.
func (n *Ntfy) Report(ctx context.Context, inc *incident.Incident) (bool, error) {
	if n.cfg.Ntfy.URL == "" {
		slog.Debug("ntfy URL not configured, skipping notification")
		return false, nil
	}

	if !n.cfg.ShouldAlert(string(inc.Type)) {
		slog.Debug("incident type not in alert types, skipping", "type", inc.Type)
		return false, nil
	}

	priority := n.cfg.NtfyPriority(string(inc.Type))
	err := post(ctx, n.client, n.cfg.Ntfy.URL, FormatTitle(inc), priority, TagsForType(inc.Type), FormatBody(inc, n.loc))
	if err != nil {
		return false, err
	}

	slog.Info("notification sent", "id", inc.ID, "type", inc.Type, "flat", inc.FlatNumber, "priority", priority)
	return true, nil
}

// SendDigest posts a digest message to url at low priority.
func SendDigest(ctx context.Context, url, title, body string) error {
	client := &http.Client{Timeout: 15 * time.Second}
	return post(ctx, client, url, title, "low", "chart", body)
}

func post(ctx context.Context, client *http.Client, url, title, priority, tags, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating ntfy request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}
