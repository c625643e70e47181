package metrics

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	shoperrors "github.com/sabaka-pes/Album-Shop/core/errors"
	"github.com/sabaka-pes/Album-Shop/core/types"
)

// ShopMetrics aggregates the counters the ledger exposes on /metrics.
type ShopMetrics struct {
	transactions     *prometheus.CounterVec
	rejectedPayments prometheus.Counter
}

var (
	shopOnce     sync.Once
	shopRegistry *ShopMetrics
)

// Shop returns the process-wide shop metrics, registering them on first use.
func Shop() *ShopMetrics {
	shopOnce.Do(func() {
		shopRegistry = &ShopMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "shop_transactions_total",
				Help: "Count of processed transactions by type and result.",
			}, []string{"type", "result"}),
			rejectedPayments: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "shop_rejected_payments_total",
				Help: "Count of payment attempts rejected by an album escrow.",
			}),
		}
		prometheus.MustRegister(
			shopRegistry.transactions,
			shopRegistry.rejectedPayments,
		)
	})
	return shopRegistry
}

// ObserveTransaction records the outcome of one applied transaction.
func (m *ShopMetrics) ObserveTransaction(tx *types.Transaction, err error) {
	if m == nil || tx == nil {
		return
	}
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	m.transactions.WithLabelValues(txTypeLabel(tx.Type), result).Inc()
	if err != nil && tx.Type == types.TxTypeTransfer &&
		(errors.Is(err, shoperrors.ErrInvalidState) || errors.Is(err, shoperrors.ErrValidation)) {
		m.rejectedPayments.Inc()
	}
}

func txTypeLabel(t types.TxType) string {
	switch t {
	case types.TxTypeTransfer:
		return "transfer"
	case types.TxTypeRegisterAlbum:
		return "register_album"
	case types.TxTypeTriggerDelivery:
		return "trigger_delivery"
	case types.TxTypeTransferOwnership:
		return "transfer_ownership"
	default:
		return strconv.Itoa(int(t))
	}
}
