package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of kafka.Reader the source needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource delivers alerts published to a Kafka topic instead of a
// websocket push server. The "event" header, or the message key when the
// header is absent, names the event and the value is its payload.
type KafkaSource struct {
	newReader func(channel string) MessageReader
	logger    *slog.Logger
}

func NewKafkaSource(brokers []string, topic, group string, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{
		logger: logger,
		newReader: func(string) MessageReader {
			return kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6, MaxWait: 500 * time.Millisecond})
		},
	}
}

// Listen starts consuming and hands every message to handler until stop is
// called. The channel name only scopes logging; the topic is fixed.
func (k *KafkaSource) Listen(ctx context.Context, channel string, handler func(event string, data []byte)) (func() error, error) {
	r := k.newReader(channel)
	lctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		backoff := 100 * time.Millisecond
		const maxBackoff = 10 * time.Second
		for {
			m, err := r.ReadMessage(lctx)
			if err != nil {
				if lctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				k.logger.Warn("alerts read failed", "channel", channel, "error", err, "backoff", backoff.String())
				select {
				case <-lctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = 100 * time.Millisecond
			handler(eventName(m), m.Value)
		}
	}()

	var once sync.Once
	var closeErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			wg.Wait()
			closeErr = r.Close()
		})
		return closeErr
	}
	return stop, nil
}

func eventName(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event" {
			return string(h.Value)
		}
	}
	return string(m.Key)
}
