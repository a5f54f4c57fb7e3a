package events

// SendMail is queued in the outbox and delivered by the poller.
type SendMail struct {
	OrganizationID string
	Recipient      string
	Subject        string
	Data           interface{}
}

func (e SendMail) GetType() string {
	return "SendMail"
}
