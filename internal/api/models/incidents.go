package models

// IncidentResponse represents one traffic incident in API responses.
type IncidentResponse struct {
	ID       string     `json:"id"`
	Time     *Timestamp `json:"time,omitempty"`
	Summary  string     `json:"summary"`
	Location *Point     `json:"location,omitempty"`

	// HasImage reports whether a sign image is cached and servable from
	// the image endpoint.
	HasImage bool `json:"hasImage"`

	// ImageURL is the upstream image source, empty when the incident
	// carries none.
	ImageURL string `json:"imageUrl,omitempty"`
}

// IncidentListResponse is the ordered incident collection with its
// lifecycle state.
type IncidentListResponse struct {
	Incidents  []IncidentResponse `json:"incidents"`
	Count      int                `json:"count"`
	FetchState string             `json:"fetchState"`
	SortPolicy string             `json:"sortPolicy"`
	LastError  string             `json:"lastError,omitempty"`
}

// FetchAccepted acknowledges an accepted load or refresh request.
type FetchAccepted struct {
	FetchState string `json:"fetchState"`
}

// SortPolicyRequest asks for a change of the collection display order.
type SortPolicyRequest struct {
	Policy string `json:"policy" validate:"required"`
}

// SortPolicyResponse reports the effective policy after a change request.
type SortPolicyResponse struct {
	Policy string `json:"policy"`
}

// ImageRequest asks for sign images to be fetched for the listed incidents.
type ImageRequest struct {
	IncidentIDs []string `json:"incidentIds" validate:"required,min=1"`
}
