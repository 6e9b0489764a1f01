package domain

// Species is seeded reference data embedded into tree reads on request.
type Species struct {
	ID             int32  `json:"id"`
	ScientificName string `json:"scientific_name"`
	CommonName     string `json:"common_name,omitempty"`
}
