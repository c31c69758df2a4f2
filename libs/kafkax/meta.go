package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header keys set by the outbox publisher and read by consumers.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// EventMeta identifies a message for inbox deduplication.
type EventMeta struct {
	EventID   string
	EventType string
}

// ExtractEventMeta reads the event headers. EventType falls back to the topic; EventID
// stays empty without an event_id header, since partition keys repeat across events.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   strings.TrimSpace(HeaderValue(msg.Headers, HeaderEventID)),
		EventType: HeaderValue(msg.Headers, HeaderEventType),
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
