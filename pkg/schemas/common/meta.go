package common

import "time"

type Meta struct {
	// Reply id, unique per outbound message
	ID string `json:"id"`
	// ID of the inbound message this reply answers
	CorrelationID string `json:"correlation_id"`
	// Emitting account or service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the reply was composed
	Time time.Time `json:"time"`
	// Message type tag, e.g. no.ks.fiks.politisk.behandling.mottatt.v1
	Type string `json:"type"`
}
