package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/otpdeck/otpdeck/internal/vault"
	"github.com/otpdeck/otpdeck/pkg/logger"
)

// DefaultBroadcastInterval paces the countdown refresh.
const DefaultBroadcastInterval = time.Second

// Broadcaster drives the codes stream: one ticker goroutine snapshots the
// vault and fans the batch out to every subscriber.
type Broadcaster struct {
	hub      *Hub
	vault    *vault.Service
	interval time.Duration
	log      *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewBroadcaster wires the hub to the vault snapshot loop.
func NewBroadcaster(hub *Hub, vaultSvc *vault.Service, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	return &Broadcaster{
		hub:      hub,
		vault:    vaultSvc,
		interval: interval,
		log:      logger.WithModule("realtime"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine.
func (b *Broadcaster) Start() {
	go b.run()
}

// Stop halts the ticker and waits for the loop to exit.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	<-b.done
}

func (b *Broadcaster) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broadcaster) tick() {
	// no subscribers, no snapshot work
	if b.hub.SubscriberCount(StreamCodes) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()

	codes, err := b.vault.Codes(ctx)
	if err != nil {
		b.log.Warn("codes snapshot failed", zap.Error(err))
		return
	}

	b.hub.BroadcastStream(StreamCodes, Message{
		Event: "codes",
		Data:  codes,
		Meta:  map[string]any{"count": len(codes)},
	})
}
