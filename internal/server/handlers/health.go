package handlers

import (
	"context"

	"github.com/spf13/afero"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	version   string
	commit    string
	adminUser string
	fs        afero.Fs
	dataFile  string
}

// NewHealthHandler creates a new health handler reporting on dataFile.
func NewHealthHandler(version, commit, adminUser string, fs afero.Fs, dataFile string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		commit:    commit,
		adminUser: adminUser,
		fs:        fs,
		dataFile:  dataFile,
	}
}

// Health handles health check requests.
func (h *HealthHandler) Health(_ context.Context, _ *EmptyRequest) (*HealthResponse, error) {
	exists, _ := afero.Exists(h.fs, h.dataFile)
	return &HealthResponse{
		Status:         "healthy",
		Version:        h.version,
		Commit:         h.commit,
		AdminUser:      h.adminUser,
		DataFile:       h.dataFile,
		DataFileExists: exists,
	}, nil
}
