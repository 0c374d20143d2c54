package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// slackPoster is the slice of *slack.Client the sink needs.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Slack struct {
	client    slackPoster
	channelID string
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, errors.New("slack channel_id is required")
	}
	return &Slack{client: slack.New(cfg.Token), channelID: cfg.ChannelID}, nil
}

func (*Slack) Name() string { return "slack" }

func (s *Slack) Deliver(ctx context.Context, activityID int64, title, message string) error {
	text := fmt.Sprintf("*%s*", strings.TrimSpace(title))
	if m := strings.TrimSpace(message); m != "" {
		text += "\n" + m
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(false),
	)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}
