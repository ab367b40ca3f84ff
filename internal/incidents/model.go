package incidents

// Location is a reporter-supplied GPS fix. Optional on every payload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Payload is the inbound incident submission. Both ingestion paths (WS frame
// and POST /api/v1/incidents) decode into this shape.
type Payload struct {
	IncidentID string    `json:"incidentId,omitempty"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Location   *Location `json:"location,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	// Image is base64-encoded binary, optionally wrapped in a data URI.
	Image     string `json:"image,omitempty"`
	ImageType string `json:"imageType,omitempty"`
}

// Incident is the stored record. Created once at ingestion, never mutated.
// The Type tag is opaque to the hub: reporters use an open set of categories
// (accident, lane_departure, abnormal_stopping, distracted_driving, ...).
type Incident struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Location   *Location `json:"location,omitempty"`
	Timestamp  string    `json:"timestamp"`
	Severity   string    `json:"severity,omitempty"`
	ReceivedAt string    `json:"receivedAt"`
	ImagePath  string    `json:"imagePath,omitempty"`
}
