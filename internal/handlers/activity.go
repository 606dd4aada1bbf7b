package handlers

import (
	"encoding/json"

	"github.com/google/uuid"
)

// logActivity appends an activity event. Emission is best-effort; failures
// are logged and never propagate to the caller's response path.
func logActivity(actorType, actorID, eventType, description string, metadata map[string]interface{}) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		payload = []byte("{}")
	}

	_, err = db.Exec(`
		INSERT INTO rentease.activity_log (id, actor_type, actor_id, event_type, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New().String(), actorType, actorID, eventType, description, string(payload))
	if err != nil {
		logger.WithError(err).WithField("event_type", eventType).Error("Failed to record activity event")
	}
}
