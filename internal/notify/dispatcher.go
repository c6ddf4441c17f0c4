// Package notify delivers asynchronous messages to traders, best effort.
// A failed delivery never propagates to the operation that triggered it.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/session"
)

var (
	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_notifications_delivered_total",
		Help: "Notifications delivered to live traders",
	}, []string{"kind"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_notifications_dropped_total",
		Help: "Notifications that could not be delivered",
	}, []string{"kind"})

	deferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_notifications_deferred_total",
		Help: "Sale acknowledgements parked for delivery on a later login",
	})
)

const (
	KindAvailability = "availability"
	KindSale         = "sale"
	KindAckSummary   = "ack_summary"
)

// Message is one frame pushed down a trader's notification channel.
type Message struct {
	ID   string    `json:"id"`
	Kind string    `json:"kind"`
	Body string    `json:"body"`
	At   time.Time `json:"at"`
}

// AckLedger banks sold quantities a seller could not be told about.
type AckLedger interface {
	RecordPendingAck(ctx context.Context, seller string, quantity int64) error
}

// Dispatcher pushes messages through the session registry. Delivery failures
// are swallowed here: a sale must not fail because the buyer's or seller's
// channel is down.
type Dispatcher struct {
	registry *session.Registry
	acks     AckLedger
	log      *zap.Logger
}

func NewDispatcher(registry *session.Registry, acks AckLedger, log *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, acks: acks, log: log}
}

// NotifyAvailability tells a wisher their wished item is now listed.
// Notify-only: no funds move and no stock is reserved; the wisher must still
// buy explicitly.
func (d *Dispatcher) NotifyAvailability(identity string, listing domain.Listing) {
	body := fmt.Sprintf("%s available on the market", listing)
	d.send(identity, KindAvailability, body)
}

// NotifySale tells a seller units were just sold. If delivery fails the sold
// quantity is banked in the acknowledgement ledger so the seller still hears
// about it on next login.
func (d *Dispatcher) NotifySale(ctx context.Context, seller string, key domain.ItemKey, quantity int64) {
	body := fmt.Sprintf("sold %d x %s", quantity, key)
	if d.send(seller, KindSale, body) {
		return
	}
	deferredTotal.Inc()
	if err := d.acks.RecordPendingAck(ctx, seller, quantity); err != nil {
		d.log.Error("failed to bank sale acknowledgement",
			zap.String("seller", seller), zap.Int64("quantity", quantity), zap.Error(err))
	}
}

// NotifyAckSummary tells a freshly logged-in seller how many units sold
// while they were away. The caller has already drained the pending count, so
// a failed delivery re-banks the total for the next login.
func (d *Dispatcher) NotifyAckSummary(ctx context.Context, identity string, totalSold int64) {
	body := fmt.Sprintf("%d of your items were sold while you were away", totalSold)
	if d.send(identity, KindAckSummary, body) {
		return
	}
	deferredTotal.Inc()
	if err := d.acks.RecordPendingAck(ctx, identity, totalSold); err != nil {
		d.log.Error("failed to re-bank sale acknowledgements",
			zap.String("seller", identity), zap.Int64("quantity", totalSold), zap.Error(err))
	}
}

func (d *Dispatcher) send(identity, kind, body string) bool {
	h, ok := d.registry.Lookup(identity)
	if !ok {
		droppedTotal.WithLabelValues(kind).Inc()
		return false
	}

	msg := Message{ID: uuid.NewString(), Kind: kind, Body: body, At: time.Now().UTC()}
	if err := h.Send(msg); err != nil {
		d.log.Info("notification delivery failed",
			zap.String("trader", identity), zap.String("kind", kind), zap.Error(err))
		droppedTotal.WithLabelValues(kind).Inc()
		return false
	}
	deliveredTotal.WithLabelValues(kind).Inc()
	return true
}
