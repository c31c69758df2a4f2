package kafkax

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter returns a writer that routes messages by key, so events for one provider
// land on one partition in order. Topic is set per message.
func NewWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(brokers)...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewReader returns a consumer-group reader that commits offsets explicitly.
func NewReader(brokers, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        SplitBrokers(brokers),
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}
