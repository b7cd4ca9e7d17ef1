package common

const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOutstanding   = "outstanding"
	InvoiceStatusOverdue       = "overdue"
	InvoiceStatusPartiallyPaid = "partially paid"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"

	SessionStatusOutstanding   = "outstanding"
	SessionStatusPartiallyPaid = "partially paid"
	SessionStatusPaid          = "paid"

	PaymentCollectionOneTime  = "one-time"
	PaymentCollectionMultiUse = "multi-use"

	PaymentAssetUSDC = "usdc"

	SweepStatusPending   = "pending"
	SweepStatusInFlight  = "in_flight"
	SweepStatusCompleted = "completed"
	SweepStatusFailed    = "failed"

	SweepSourceInvoice         = "invoice"
	SweepSourceCheckoutSession = "checkout_session"

	EventTypeWalletActivity = "wallet_activity"

	TransactionStatusComplete = "COMPLETE"

	NetworkBaseMainnet = "base-mainnet"
	NetworkBaseSepolia = "base-sepolia"

	WebhookConsumerDirect   = "direct"
	WebhookConsumerRabbitMQ = "rabbitmq"
)

// InvoiceStatuses lists every invoice status in lifecycle order.
var InvoiceStatuses = []string{
	InvoiceStatusDraft,
	InvoiceStatusOutstanding,
	InvoiceStatusOverdue,
	InvoiceStatusPartiallyPaid,
	InvoiceStatusPaid,
	InvoiceStatusVoid,
}
