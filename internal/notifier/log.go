package notifier

import (
	"context"

	logx "flowup/pkg/logx"
)

type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	return &LogSink{log: log}
}

func (*LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, activityID int64, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("reminder", logx.ActivityID(activityID), logx.String("title", title), logx.String("message", message))
	return nil
}
