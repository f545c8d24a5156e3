package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/gogotex/sessionguard/pkg/logger"
)

// LogSink writes events to the process log at WARN.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, ev SecurityEvent) error {
	logger.Warn().Str("event_id", ev.ID).Str("event_type", ev.Type).Str("user_id", ev.UserID).
		Str("device_id", ev.DeviceID).Str("source_ip", ev.SourceIP).Time("at", ev.Timestamp).
		Msg("security event")
	return nil
}

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(c *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = "security-events"
	}
	return &RedisSink{client: c, channel: channel}
}

func (s *RedisSink) Emit(ctx context.Context, ev SecurityEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, b).Err()
}

// Uploader is the subset of the object store used for archiving.
type Uploader interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
}

// ArchiveSink stores each event as a JSON object under
// security-events/YYYY/MM/DD/<id>.json.
type ArchiveSink struct {
	store Uploader
}

func NewArchiveSink(u Uploader) *ArchiveSink { return &ArchiveSink{store: u} }

func ArchiveKey(ev SecurityEvent) string {
	return fmt.Sprintf("security-events/%s/%s.json", ev.Timestamp.UTC().Format("2006/01/02"), ev.ID)
}

func (s *ArchiveSink) Emit(ctx context.Context, ev SecurityEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.store.UploadFile(ctx, ArchiveKey(ev), bytes.NewReader(b), int64(len(b)), "application/json")
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
