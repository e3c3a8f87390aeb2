package api

import (
	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/registry"
)

// VersionInfo describes one model version in list responses.
type VersionInfo struct {
	Model    string `json:"model"`
	Version  string `json:"version"`
	Blobs    int    `json:"blobs"`
	Size     int64  `json:"size"`
	BackedUp bool   `json:"backed_up"`
	Error    string `json:"error,omitempty"`
}

// ListResponse is the JSON response for GET /api/models.
type ListResponse struct {
	Models []VersionInfo `json:"models"`
}

// ShowResponse is the JSON response for GET /api/models/{model}/{version}.
type ShowResponse struct {
	Model    string                   `json:"model"`
	Version  string                   `json:"version"`
	Manifest *registry.Manifest       `json:"manifest"`
	Size     int64                    `json:"size"`
	Record   *organizer.VersionRecord `json:"record,omitempty"`
}

// OrganizeRequest is the JSON body for POST /api/organize. The batch is the
// union of Tasks, every version of each of Models, and everything when All
// is set.
type OrganizeRequest struct {
	Tasks  []organizer.Task `json:"tasks"`
	Models []string         `json:"models,omitempty"`
	All    bool             `json:"all,omitempty"`
}

// DeleteRequest is the JSON body for DELETE /api/models.
type DeleteRequest struct {
	Tasks []organizer.Task `json:"tasks"`
}

// DeleteResult is the outcome for one version in a delete response.
type DeleteResult struct {
	Model   string `json:"model"`
	Version string `json:"version"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
}

// DeleteResponse is the JSON response for DELETE /api/models.
type DeleteResponse struct {
	Results []DeleteResult           `json:"results"`
	Summary *organizer.DeleteSummary `json:"summary"`
}

// HealthResponse is the JSON response for GET /api/health.
type HealthResponse struct {
	Status     string `json:"status"`
	Library    string `json:"library"`
	OutputRoot string `json:"output_root,omitempty"`
	Busy       bool   `json:"busy"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
