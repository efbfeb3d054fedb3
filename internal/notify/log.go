package notify

import (
	"context"
	"log"
)

const logChannelName = "log"

// LogChannel writes notifications to the process log.
type LogChannel struct {
	logger *log.Logger
}

func NewLogChannel() *LogChannel {
	return &LogChannel{logger: log.Default()}
}

func (l *LogChannel) Name() string { return logChannelName }

func (l *LogChannel) Start(ctx context.Context) error { return nil }

func (l *LogChannel) Stop() error { return nil }

func (l *LogChannel) Send(n Notification) error {
	l.logger.Printf("[notify] %s: %s", n.Title, n.Body)
	return nil
}
