package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/spraayhq/walletcore/pkg/wallet"
)

// balanceEventMessage is the wire shape published to the notification topic.
type balanceEventMessage struct {
	AccountID      string `json:"account_id"`
	Direction      string `json:"direction"`
	AmountKobo     int64  `json:"amount_kobo"`
	NewBalanceKobo int64  `json:"new_balance_kobo"`
	Reference      string `json:"reference"`
	EntryID        string `json:"entry_id"`
	Source         string `json:"source"`
}

// KafkaSink publishes balance events to a kafka topic, keyed by account id so
// a consumer sees one account's events in order.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink wires a sink for the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Deliver implements Sink.
func (sink *KafkaSink) Deliver(ctx context.Context, event wallet.BalanceEvent) error {
	payload, err := json.Marshal(balanceEventMessage{
		AccountID:      event.AccountID.String(),
		Direction:      string(event.Direction),
		AmountKobo:     event.AmountKobo.Int64(),
		NewBalanceKobo: event.NewBalanceKobo.Int64(),
		Reference:      event.Reference.String(),
		EntryID:        event.EntryID,
		Source:         string(event.Source),
	})
	if err != nil {
		return fmt.Errorf("encode balance event: %w", err)
	}
	return sink.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountID.String()),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (sink *KafkaSink) Close() error {
	return sink.writer.Close()
}
