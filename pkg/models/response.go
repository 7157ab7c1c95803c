package models

// ShotFitResponse is the outcome of fitting one shot
type ShotFitResponse struct {
	ShotID            string            `json:"shot_id"`
	Fits              FitReport         `json:"fit"`
	Errors            map[string]string `json:"errors,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
	Persisted         bool              `json:"persisted"`
	ArchivePath       string            `json:"archive_path,omitempty"`
	ProcessingTimeSec float64           `json:"processing_time_sec"`
	Timestamp         string            `json:"timestamp"`
}

// Succeeded reports whether every requested fit produced a result
func (r *ShotFitResponse) Succeeded() bool {
	return len(r.Errors) == 0
}
