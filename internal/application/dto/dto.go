package dto

type ErrorResponse struct {
	Error string `json:"error"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
