package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// PriceUpdate is the wire format on liq.prices.<SYMBOL>.
type PriceUpdate struct {
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"` // 6-decimal fixed point
	Timestamp int64  `json:"timestamp_micros"`
}

// NATSFeed consumes liq.prices.> and answers Price from the last update
// seen per symbol, rejecting anything older than the staleness bound.
type NATSFeed struct {
	js       jetstream.JetStream
	maxAge   time.Duration
	consumer jetstream.ConsumeContext

	mu     sync.RWMutex
	latest map[string]PriceUpdate
}

const (
	priceStream   = "LIQ_PRICES"
	priceSubjects = "liq.prices.>"
)

// NewNATSFeed builds a feed-backed oracle. Call Start before Price.
func NewNATSFeed(js jetstream.JetStream, maxAge time.Duration) *NATSFeed {
	return &NATSFeed{
		js:     js,
		maxAge: maxAge,
		latest: make(map[string]PriceUpdate),
	}
}

// Start ensures the price stream exists and begins consuming. Gaps are
// tolerated: only the most recent price per symbol matters.
func (f *NATSFeed) Start(ctx context.Context) error {
	_, err := f.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      priceStream,
		Subjects:  []string{priceSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", priceStream, err)
	}

	consumer, err := f.js.CreateOrUpdateConsumer(ctx, priceStream, jetstream.ConsumerConfig{
		Durable:       "liqguard-prices",
		FilterSubject: priceSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var upd PriceUpdate
		if err := json.Unmarshal(msg.Data(), &upd); err != nil {
			log.Printf("WARN: malformed price update on %s: %v", msg.Subject(), err)
			msg.Ack()
			return
		}
		if upd.Symbol == "" || upd.Price <= 0 {
			msg.Ack()
			return
		}
		f.mu.Lock()
		if upd.Timestamp >= f.latest[upd.Symbol].Timestamp {
			f.latest[upd.Symbol] = upd
		}
		f.mu.Unlock()
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	f.consumer = cc
	log.Printf("INFO: subscribed to %s", priceSubjects)
	return nil
}

// Stop halts the consumer.
func (f *NATSFeed) Stop() {
	if f.consumer != nil {
		f.consumer.Stop()
	}
}

// Price returns the last update for symbol, or ErrUnknownSymbol /
// ErrStalePrice.
func (f *NATSFeed) Price(_ context.Context, symbol string) (int64, error) {
	f.mu.RLock()
	upd, ok := f.latest[symbol]
	f.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%q: %w", symbol, ErrUnknownSymbol)
	}
	age := time.Since(time.UnixMicro(upd.Timestamp))
	if f.maxAge > 0 && age > f.maxAge {
		return 0, fmt.Errorf("%q last updated %s ago: %w", symbol, age.Round(time.Millisecond), ErrStalePrice)
	}
	return upd.Price, nil
}
