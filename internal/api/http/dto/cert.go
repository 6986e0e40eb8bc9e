package dto

type CertProblem struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Path     string `json:"path"`
	Detail   string `json:"detail"`
}

type CertStatusResponse struct {
	Enabled         bool          `json:"enabled"`
	Usable          bool          `json:"usable"`
	DaysUntilExpiry int           `json:"days_until_expiry"`
	Problems        []CertProblem `json:"problems"`
}
