package handlers

import (
	"context"
	"log/slog"

	"github.com/maruel/linkreview/internal/server/reqctx"
	"github.com/maruel/linkreview/internal/store"
)

// RecordHandler serves the reviewer endpoints.
type RecordHandler struct {
	mgr *store.Manager
}

// NewRecordHandler creates a new record handler.
func NewRecordHandler(mgr *store.Manager) *RecordHandler {
	return &RecordHandler{mgr: mgr}
}

// GetData returns the whole collection with its version.
func (h *RecordHandler) GetData(ctx context.Context, _ *EmptyRequest) (*DataResponse, error) {
	user := reqctx.Username(ctx)
	snap, err := h.mgr.GetSnapshot(user)
	if err != nil {
		return nil, fromStore(err)
	}
	return &DataResponse{Snapshot: snap, Username: user}, nil
}

// GetVersion returns the current data version.
func (h *RecordHandler) GetVersion(_ context.Context, _ *EmptyRequest) (*store.Version, error) {
	v, err := h.mgr.Version()
	if err != nil {
		return nil, fromStore(err)
	}
	return v, nil
}

// Update sets fields of one record.
func (h *RecordHandler) Update(ctx context.Context, req *UpdateRequest) (*store.UpdateResult, error) {
	user := reqctx.Username(ctx)
	res, err := h.mgr.ApplyUpdate(*req.Index, req.Updates, user)
	if err != nil {
		return nil, fromStore(err)
	}
	if res.FlushError != "" {
		slog.WarnContext(ctx, "Update accepted but not saved", "user", user, "index", *req.Index, "pending", res.Pending)
	}
	return res, nil
}

// Save replaces the whole collection, stamping records whose Status changed.
func (h *RecordHandler) Save(ctx context.Context, req *SaveRequest) (*SaveResponse, error) {
	user := reqctx.Username(ctx)
	res, err := h.mgr.ReplaceAll(store.ReplaceRequest{
		Records:             req.Data,
		Username:            user,
		ExpectedFingerprint: req.Version,
		Attribute:           true,
	})
	if err != nil {
		if _, ok := err.(*store.ConflictError); ok {
			slog.InfoContext(ctx, "Rejected stale save", "user", user, "client_version", req.Version)
		}
		return nil, fromStore(err)
	}
	return &SaveResponse{Status: "success", SavedBy: user, ReplaceResult: res}, nil
}

// Next checks out the next record matching the filters.
func (h *RecordHandler) Next(ctx context.Context, req *NextRequest) (*store.NextResult, error) {
	after := -1
	if req.CurrentIndex != nil {
		after = *req.CurrentIndex
	}
	res, err := h.mgr.GetNextAvailable(reqctx.Username(ctx), after, req.Filters)
	if err != nil {
		return nil, fromStore(err)
	}
	return res, nil
}

// Release drops the caller's checkout.
func (h *RecordHandler) Release(ctx context.Context, _ *EmptyRequest) (*OKResponse, error) {
	if err := h.mgr.ReleaseCheckout(reqctx.Username(ctx)); err != nil {
		return nil, fromStore(err)
	}
	return &OKResponse{Status: "ok"}, nil
}

// Heartbeat keeps the caller's session and checkout alive.
func (h *RecordHandler) Heartbeat(ctx context.Context, _ *EmptyRequest) (*OKResponse, error) {
	if err := h.mgr.RecordActivity(reqctx.Username(ctx)); err != nil {
		return nil, fromStore(err)
	}
	return &OKResponse{Status: "ok"}, nil
}

// Stats summarizes the collection and the active reviewers.
func (h *RecordHandler) Stats(_ context.Context, req *StatsRequest) (*store.Stats, error) {
	st, err := h.mgr.GetStats(req.Status)
	if err != nil {
		return nil, fromStore(err)
	}
	return st, nil
}
