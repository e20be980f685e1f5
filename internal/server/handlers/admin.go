// Endpoints reserved to the admin user.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/maruel/linkreview/internal/errors"
	"github.com/maruel/linkreview/internal/history"
	"github.com/maruel/linkreview/internal/records"
	"github.com/maruel/linkreview/internal/server/reqctx"
	"github.com/maruel/linkreview/internal/store"
)

// AdminHandler serves the admin endpoints.
type AdminHandler struct {
	mgr     *store.Manager
	history *history.Repo
	maxBody int64
}

// NewAdminHandler creates a new admin handler. repo may be nil when history is
// disabled. maxBody limits uploads; 0 means 10 MiB.
func NewAdminHandler(mgr *store.Manager, repo *history.Repo, maxBody int64) *AdminHandler {
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &AdminHandler{mgr: mgr, history: repo, maxBody: maxBody}
}

// Flush writes the collection to disk now.
func (h *AdminHandler) Flush(ctx context.Context, _ *EmptyRequest) (*store.FlushReport, error) {
	rep, err := h.mgr.ForceFlush()
	if err != nil {
		return nil, fromStore(err)
	}
	slog.InfoContext(ctx, "Forced save", "user", reqctx.Username(ctx), "ok", rep.OK)
	return rep, nil
}

// History lists the latest commits of the data file.
func (h *AdminHandler) History(_ context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if h.history == nil {
		return nil, errors.NotImplemented("history")
	}
	commits, err := h.history.Log(req.Limit)
	if err != nil {
		return nil, errors.InternalWithError("failed to read history", err)
	}
	return &HistoryResponse{Commits: commits}, nil
}

// HistoryResponse lists commits, newest first.
type HistoryResponse struct {
	Commits []*history.Commit `json:"commits"`
}

// Upload replaces the collection with an uploaded JSON file (multipart/form-data).
// This is a raw http.HandlerFunc because it handles multipart forms.
func (h *AdminHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(h.maxBody); err != nil {
		WriteError(w, errors.BadRequest("Invalid multipart form").Wrap(err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, errors.MissingField("file"))
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close uploaded file", "error", err)
		}
	}()
	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, errors.InternalWithError("failed to read upload", err))
		return
	}
	c, err := records.Parse(data)
	if err != nil {
		WriteError(w, errors.NewAPIError(http.StatusBadRequest, errors.ErrInvalidFormat, fmt.Sprintf("Invalid JSON file: %v", err)))
		return
	}

	user := reqctx.Username(ctx)
	res, err := h.mgr.ReplaceAll(store.ReplaceRequest{Records: c, Username: user})
	if err != nil {
		WriteError(w, fromStore(err))
		return
	}
	slog.InfoContext(ctx, "Uploaded records", "user", user, "file", header.Filename, "count", res.Count, "saved", res.Persisted)
	resp := UploadResponse{
		Status:     "success",
		Message:    fmt.Sprintf("File uploaded successfully by %s", user),
		Items:      res.Count,
		Version:    res.Fingerprint,
		Saved:      res.Persisted,
		SaveError:  res.FlushError,
		UploadedBy: user,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "Failed to write upload response", "error", err)
	}
}

// Download sends the in-memory collection as a JSON attachment.
func (h *AdminHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := h.mgr.GetSnapshot(reqctx.Username(ctx))
	if err != nil {
		WriteError(w, fromStore(err))
		return
	}
	name := "records_" + snap.FingerprintAt.Format("20060102_150405") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Data-Version", snap.Fingerprint)
	if err := records.Encode(w, snap.Records); err != nil {
		slog.ErrorContext(ctx, "Failed to write download", "error", err)
	}
}
