package db

import (
	"encoding/json"
	"log/slog"

	"github.com/Builder-Lawyers/billing-backend/internal/application/events"
)

func RawMessageToMap(raw json.RawMessage) map[string]interface{} {
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		slog.Error("error unmarshaling event", "err", err)
	}
	return result
}

func MapOutboxModelToSendMail(outbox Outbox) events.SendMail {
	var sendMail events.SendMail
	if err := json.Unmarshal(outbox.Payload, &sendMail); err != nil {
		slog.Error("error unmarshaling event", "err", err)
		return events.SendMail{}
	}

	return sendMail
}

func MapToRawMessage(data map[string]interface{}) json.RawMessage {
	bytes, err := json.Marshal(data)
	if err != nil {
		slog.Error("error marshaling event", "err", err)
		return nil
	}
	return json.RawMessage(bytes)
}
