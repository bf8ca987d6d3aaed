package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wrkhub/authgate/internal/config"
	"github.com/wrkhub/authgate/internal/models"
)

// Client enqueues notification tasks; the worker binary delivers them to
// the notifier service.
type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SendMagicCode(ctx context.Context, email, code string) error {
	return c.enqueue(TypeMagicCode, MagicCodePayload{Email: email, Code: code},
		asynq.MaxRetry(3), asynq.Timeout(30*time.Second), asynq.Queue("critical"))
}

func (c *Client) SendInvitation(ctx context.Context, invite *models.WorkspaceInvite) error {
	payload := InvitationPayload{
		Email:       invite.Email,
		WorkspaceID: invite.WorkspaceID.String(),
		InviteID:    invite.ID.String(),
		Role:        int(invite.Role),
	}
	return c.enqueue(TypeInvitation, payload, asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
}

func (c *Client) SendActivation(ctx context.Context, email string) error {
	return c.enqueue(TypeActivation, ActivationPayload{Email: email},
		asynq.MaxRetry(3), asynq.Timeout(30*time.Second))
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
