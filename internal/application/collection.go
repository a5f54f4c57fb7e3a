package application

import (
	"github.com/Builder-Lawyers/billing-backend/internal/application/commands/billing"
	"github.com/Builder-Lawyers/billing-backend/internal/application/processors"
)

type Handlers struct {
	Webhook  *billing.Webhook
	SendMail *processors.SendMail
}
