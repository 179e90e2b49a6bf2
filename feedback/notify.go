package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier is told about newly reported issues.
type Notifier interface {
	IssueReported(ctx context.Context, issue Submission) error
}

// LogNotifier writes issues to the operations log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogNotifier{logger: logger}
}

func (n LogNotifier) IssueReported(_ context.Context, issue Submission) error {
	n.logger.Warn("issue reported",
		zap.Stringer("id", issue.ID),
		zap.String("severity", issue.Severity),
		zap.String("subject", issue.Subject),
		zap.String("page", issue.Page),
		zap.String("submitted_by", issue.SubmittedBy),
	)
	return nil
}

// RedisNotifier publishes issues for on-call tooling subscribed to channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) RedisNotifier {
	if channel == "" {
		channel = "warehouse:issues"
	}
	return RedisNotifier{client: client, channel: channel}
}

func (n RedisNotifier) IssueReported(ctx context.Context, issue Submission) error {
	payload, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("feedback: encode issue: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("feedback: publish issue: %w", err)
	}
	return nil
}

// Notifiers fans out to every notifier and joins their errors.
type Notifiers []Notifier

func (ns Notifiers) IssueReported(ctx context.Context, issue Submission) error {
	var errs []error
	for _, n := range ns {
		if err := n.IssueReported(ctx, issue); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
