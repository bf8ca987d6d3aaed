package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wrkhub/authgate/internal/config"
)

// Worker delivers queued notifications to the notifier service over HTTP.
// Each body is signed so the notifier can verify the origin.
type Worker struct {
	cfg        config.NotifierConfig
	httpClient *http.Client
}

func NewWorker(cfg config.NotifierConfig) *Worker {
	return &Worker{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *Worker) ProcessMagicCode(ctx context.Context, t *asynq.Task) error {
	var payload MagicCodePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return w.deliver(ctx, "magic_code", t.Payload())
}

func (w *Worker) ProcessInvitation(ctx context.Context, t *asynq.Task) error {
	var payload InvitationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return w.deliver(ctx, "invitation", t.Payload())
}

func (w *Worker) ProcessActivation(ctx context.Context, t *asynq.Task) error {
	var payload ActivationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return w.deliver(ctx, "activation", t.Payload())
}

func (w *Worker) deliver(ctx context.Context, event string, body []byte) error {
	if w.cfg.URL == "" {
		slog.Warn("notifier not configured, dropping notification", "event", event)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notify-Event", event)
	req.Header.Set("X-Notify-Signature", sign(body, w.cfg.Secret))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notifier returned status %d for %s", resp.StatusCode, event)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
