// Request and response types of the review API.

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/maruel/linkreview/internal/errors"
	"github.com/maruel/linkreview/internal/records"
	"github.com/maruel/linkreview/internal/store"
)

// Validatable is implemented by every request type.
type Validatable interface {
	Validate() error
}

// EmptyRequest is the request of endpoints without input.
type EmptyRequest struct{}

// Validate implements Validatable.
func (*EmptyRequest) Validate() error { return nil }

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Commit         string `json:"commit,omitempty"`
	AdminUser      string `json:"admin_user"`
	DataFile       string `json:"data_file"`
	DataFileExists bool   `json:"data_file_exists"`
}

// DataResponse is the full collection as seen by username.
type DataResponse struct {
	*store.Snapshot
	Username string `json:"username,omitempty"`
}

// UpdateRequest sets fields of one record.
type UpdateRequest struct {
	Index   *int           `json:"index"`
	Updates map[string]any `json:"updates"`
}

// Validate implements Validatable.
func (r *UpdateRequest) Validate() error {
	if r.Index == nil {
		return errors.MissingField("index")
	}
	if len(r.Updates) == 0 {
		return errors.MissingField("updates")
	}
	return nil
}

// SaveRequest replaces the whole collection. The body is either the array of
// records or an object with a "data" array.
type SaveRequest struct {
	Data records.Collection `json:"data"`
	// Version is the fingerprint the client based its edits on.
	Version string `json:"-" header:"X-Data-Version"`
}

// UnmarshalJSON accepts both body shapes.
func (r *SaveRequest) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimSpace(b); len(t) != 0 && t[0] == '[' {
		return json.Unmarshal(t, &r.Data)
	}
	var body struct {
		Data records.Collection `json:"data"`
	}
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	if err := d.Decode(&body); err != nil {
		return fmt.Errorf("save body must be an array or {\"data\": [...]}: %w", err)
	}
	r.Data = body.Data
	return nil
}

// Validate implements Validatable.
func (r *SaveRequest) Validate() error {
	if r.Data == nil {
		return errors.MissingField("data")
	}
	return nil
}

// SaveResponse reports a replace.
type SaveResponse struct {
	Status  string `json:"status"`
	SavedBy string `json:"saved_by,omitempty"`
	*store.ReplaceResult
}

// NextRequest asks for the next record to review.
type NextRequest struct {
	// CurrentIndex is the record the user is leaving; the scan starts after it.
	CurrentIndex *int           `json:"current_index"`
	Filters      records.Filter `json:"filters"`
}

// Validate implements Validatable.
func (r *NextRequest) Validate() error {
	if r.CurrentIndex != nil && *r.CurrentIndex < -1 {
		return errors.InvalidIndex(fmt.Sprintf("invalid current_index %d", *r.CurrentIndex))
	}
	return nil
}

// StatsRequest filters statistics by Status.
type StatsRequest struct {
	Status string `query:"status"`
}

// Validate implements Validatable.
func (*StatsRequest) Validate() error { return nil }

// HistoryRequest lists recent commits.
type HistoryRequest struct {
	Limit int `query:"limit"`
}

// Validate implements Validatable.
func (r *HistoryRequest) Validate() error {
	if r.Limit < 0 {
		return errors.BadRequest("limit must be non-negative")
	}
	return nil
}

// OKResponse acknowledges a request without payload.
type OKResponse struct {
	Status string `json:"status"`
}

// UploadResponse reports an uploaded collection.
type UploadResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Items      int    `json:"items"`
	Version    string `json:"version"`
	Saved      bool   `json:"saved"`
	SaveError  string `json:"save_error,omitempty"`
	UploadedBy string `json:"uploaded_by"`
}
