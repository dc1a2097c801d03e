package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMailboxMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "popbox_mailbox_messages",
			Help: "Number of messages in the mailbox of an account, as of the last successful check.",
		},
		[]string{"account"},
	)
	metricMailboxBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "popbox_mailbox_bytes",
			Help: "Total size of messages in the mailbox of an account, as of the last successful check.",
		},
		[]string{"account"},
	)
	metricCheck = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popbox_check_total",
			Help: "Checks of accounts, by result.",
		},
		[]string{
			"account",
			"result", // ok, error
		},
	)
)

// MailboxSet records the mailbox statistics from a successful check.
func MailboxSet(account string, count uint32, size uint64) {
	metricMailboxMessages.WithLabelValues(account).Set(float64(count))
	metricMailboxBytes.WithLabelValues(account).Set(float64(size))
}

// CheckInc counts a check of an account, result is "ok" or "error".
func CheckInc(account, result string) {
	metricCheck.WithLabelValues(account, result).Inc()
}
