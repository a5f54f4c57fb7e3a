package consts

type WebhookStatus string

const (
	WebhookStatusReceived  WebhookStatus = "received"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

type InvoiceStatus string

const (
	InvoiceStatusOpen   InvoiceStatus = "open"
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusFailed InvoiceStatus = "failed"
)

type NotificationType string

const (
	NotificationInvoiceUpcoming  NotificationType = "invoice_upcoming"
	NotificationPaymentSucceeded NotificationType = "payment_succeeded"
	NotificationPaymentFailed    NotificationType = "payment_failed"
)

const PlanFree = "free"

const SubscriptionStatusCanceled = "canceled"

const DefaultOrganizationMetadataKey = "organization_id"
