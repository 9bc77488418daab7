package domain

// Gateway payment statuses reported by Mercado Pago.
const (
	PaymentStatusApproved    = "approved"
	PaymentStatusPending     = "pending"
	PaymentStatusInProcess   = "in_process"
	PaymentStatusAuthorized  = "authorized"
	PaymentStatusRejected    = "rejected"
	PaymentStatusCancelled   = "cancelled"
	PaymentStatusRefunded    = "refunded"
	PaymentStatusChargedBack = "charged_back"
)

// Reconciliation outcomes.
const (
	OutcomePaid      = "paid"
	OutcomeCancelled = "cancelled"
	OutcomeUnchanged = "unchanged"
	OutcomeIgnored   = "ignored"
)

// TargetStatus maps a gateway payment status to the order status it drives.
// Ambiguous or unknown statuses return "" and leave the order pending.
func TargetStatus(paymentStatus string) string {
	switch paymentStatus {
	case PaymentStatusApproved:
		return OrderStatusPaid
	case PaymentStatusRejected, PaymentStatusCancelled, PaymentStatusRefunded, PaymentStatusChargedBack:
		return OrderStatusCancelled
	default:
		return ""
	}
}

// IsTerminalPaymentStatus reports whether a gateway status settles the order.
func IsTerminalPaymentStatus(paymentStatus string) bool {
	return TargetStatus(paymentStatus) != ""
}
