package mail

type MailType string

const (
	PaymentSucceeded MailType = "PaymentSucceeded"
	PaymentFailed    MailType = "PaymentFailed"
)

type MailData interface {
	GetMailType() MailType
	GetSubject() string
}

type PaymentSucceededData struct {
	InvoiceID        string
	Amount           string
	HostedInvoiceURL string
	PeriodEnd        string
	Year             string
}

func (s PaymentSucceededData) GetMailType() MailType {
	return PaymentSucceeded
}

func (s PaymentSucceededData) GetSubject() string {
	return "Your payment was received"
}

type PaymentFailedData struct {
	InvoiceID        string
	Amount           string
	HostedInvoiceURL string
	Year             string
}

func (s PaymentFailedData) GetMailType() MailType {
	return PaymentFailed
}

func (s PaymentFailedData) GetSubject() string {
	return "Your payment could not be processed"
}
