package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderAccepted  = "order.accepted"
	EventOrderCancelled = "order.cancelled"
	EventTradeExecuted  = "trade.executed"
)

type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewEnvelope(eventType string, version int, correlationID string) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, fmt.Errorf("event_type is required")
	}
	if version <= 0 {
		return Envelope{}, fmt.Errorf("event_version must be positive")
	}

	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  version,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}, nil
}

// OrderEvent is published on order acceptance and cancellation.
type OrderEvent struct {
	Envelope
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	CoinID     string `json:"coin_id"`
	CoinSymbol string `json:"coin_symbol"`
	Side       string `json:"side"`
	Mode       string `json:"mode"`
	Status     string `json:"status"`
	Quantity   string `json:"quantity"`
	LimitPrice string `json:"limit_price,omitempty"`
}

// TradeEvent is published after an execution commits to the ledger.
type TradeEvent struct {
	Envelope
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	CoinID        string `json:"coin_id"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	PricePerUnit  string `json:"price_per_unit"`
	TotalAmount   string `json:"total_amount"`
}

type DLQPublishPayload struct {
	OriginalTopic string    `json:"original_topic"`
	Key           string    `json:"key,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	Payload       string    `json:"payload_base64"`
	Timestamp     time.Time `json:"timestamp"`
}

func BuildPublishDLQPayload(topic, key string, value any, err error, reason string, attempts int) DLQPublishPayload {
	payload := ""
	if value != nil {
		if raw, marshalErr := json.Marshal(value); marshalErr == nil {
			payload = base64.StdEncoding.EncodeToString(raw)
		} else {
			payload = base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%v", value)))
		}
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return DLQPublishPayload{
		OriginalTopic: topic,
		Key:           key,
		Error:         errMsg,
		Reason:        reason,
		Attempts:      attempts,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}
