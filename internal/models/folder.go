package models

// JobFolder is a named administrative grouping of Jobs and
// OptimizingJobs.
type JobFolder struct {
	Name                  string `json:"name" badgerholdKey:"Name"`
	Description           string `json:"description,omitempty"`
	DisplayInReadOnlyMode bool   `json:"displayInReadOnlyMode"`
}
