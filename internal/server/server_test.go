package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maruel/linkreview/internal/clock"
	"github.com/maruel/linkreview/internal/history"
	"github.com/maruel/linkreview/internal/records"
	"github.com/maruel/linkreview/internal/server/ratelimit"
	"github.com/maruel/linkreview/internal/storage"
	"github.com/maruel/linkreview/internal/store"
	"github.com/spf13/afero"
)

const seed = `[
  {"id": 1, "Status": "Pending", "RefA": "1:1"},
  {"id": 2, "Status": "done", "RefA": "1:2"},
  {"id": 3, "Status": "Pending", "RefA": "1:3"}
]`

type testServer struct {
	t       *testing.T
	handler http.Handler
	mgr     *store.Manager
	fs      afero.Fs
}

func newTestServer(t *testing.T, mod func(*Config)) *testServer {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/data/records.json", []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	fstore, err := storage.NewFileStore(fs, "/data/records.json")
	if err != nil {
		t.Fatal(err)
	}
	mgr := store.New(fstore, store.Options{
		SaveThreshold: 3,
		Clock:         clock.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err := mgr.Initialize(); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{
		Manager:             mgr,
		Fs:                  fs,
		DataFile:            "/data/records.json",
		AdminUser:           "admin",
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	}
	if mod != nil {
		mod(cfg)
	}
	return &testServer{t: t, handler: NewRouter(cfg), mgr: mgr, fs: fs}
}

func (s *testServer) do(method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set("X-Username", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return v
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Details map[string]any `json:"details"`
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) apiError {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body %s", w.Code, status, w.Body.String())
	}
	e := decode[apiError](t, w)
	if e.Error.Code != code {
		t.Errorf("code = %q, want %q", e.Error.Code, code)
	}
	return e
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "healthy" || resp["admin_user"] != "admin" || resp["data_file_exists"] != true {
		t.Errorf("health = %v", resp)
	}
}

func TestDataAndVersion(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/api/data", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var data struct {
		Data     []map[string]any `json:"data"`
		Version  string           `json:"version"`
		Username string           `json:"username"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Data) != 3 || data.Username != "alice" || data.Version == "" {
		t.Errorf("data = %+v", data)
	}
	// Field order of the file is kept on the wire.
	if !strings.Contains(w.Body.String(), `{"id":1,"Status":"Pending","RefA":"1:1"}`) {
		t.Errorf("field order lost: %s", w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/version", "", "")
	v := decode[map[string]any](t, w)
	if v["version"] != data.Version {
		t.Errorf("version = %v, want %s", v["version"], data.Version)
	}
}

func TestUpdate(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("anonymous", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/update", "", `{"index": 0, "updates": {"Status": "done"}}`)
		expectError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
	})

	t.Run("invalid index", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/update", "alice", `{"index": 7, "updates": {"Status": "done"}}`)
		expectError(t, w, http.StatusBadRequest, "INVALID_INDEX")
	})

	t.Run("missing index", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/update", "alice", `{"updates": {"Status": "done"}}`)
		expectError(t, w, http.StatusBadRequest, "MISSING_FIELD")
	})

	t.Run("unknown field", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/update", "alice", `{"index": 0, "updates": {}, "bogus": 1}`)
		expectError(t, w, http.StatusBadRequest, "INVALID_FORMAT")
	})

	t.Run("accepted", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/update", "alice", `{"index": 0, "updates": {"Status": "done"}}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		res := decode[store.UpdateResult](t, w)
		if res.Pending != 1 || res.Flushed || res.Fingerprint == "" {
			t.Errorf("result = %+v", res)
		}
		snap, _ := s.mgr.GetSnapshot("")
		if by, _ := snap.Records[0].Get(records.FieldFixedBy); by != "alice" {
			t.Errorf("fixed_by = %v", by)
		}
	})

	t.Run("large integer", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/update", "alice", `{"index": 1, "updates": {"ref": 9007199254740993}}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		w = s.do(http.MethodGet, "/api/data", "alice", "")
		if !strings.Contains(w.Body.String(), `"ref":9007199254740993`) {
			t.Errorf("integer changed: %s", w.Body.String())
		}
	})
}

func TestSave(t *testing.T) {
	s := newTestServer(t, nil)
	v, _ := s.mgr.Version()

	t.Run("conflict", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/save", "alice", `[{"Status": "x"}]`, "X-Data-Version", "stale")
		e := expectError(t, w, http.StatusConflict, "CONFLICT")
		if e.Details["current_version"] != v.Fingerprint {
			t.Errorf("current_version = %v, want %s", e.Details["current_version"], v.Fingerprint)
		}
		if after, _ := s.mgr.Version(); after.Fingerprint != v.Fingerprint {
			t.Error("rejected save changed the data")
		}
	})

	t.Run("object body with current version", func(t *testing.T) {
		body := `{"data": [{"id": 1, "Status": "done"}, {"id": 2, "Status": "done"}]}`
		w := s.do(http.MethodPost, "/api/save", "bob", body, "X-Data-Version", v.Fingerprint)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		res := decode[map[string]any](t, w)
		if res["status"] != "success" || res["saved_by"] != "bob" || res["saved"] != true || res["count"] != float64(2) {
			t.Errorf("result = %v", res)
		}
		disk, err := afero.ReadFile(s.fs, "/data/records.json")
		if err != nil {
			t.Fatal(err)
		}
		c, err := records.Parse(disk)
		if err != nil {
			t.Fatal(err)
		}
		if by, _ := c[0].Get(records.FieldFixedBy); by != "bob" || len(c) != 2 {
			t.Errorf("persisted %d records, fixed_by = %v", len(c), by)
		}
		if _, ok := c[1].Get(records.FieldFixedBy); ok {
			t.Error("unchanged record stamped")
		}
	})

	t.Run("missing data", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/save", "bob", `{}`)
		expectError(t, w, http.StatusBadRequest, "MISSING_FIELD")
	})
}

func TestNextAndRelease(t *testing.T) {
	s := newTestServer(t, nil)
	next := func(user, body string) store.NextResult {
		t.Helper()
		w := s.do(http.MethodPost, "/api/next", user, body)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		return decode[store.NextResult](t, w)
	}
	filter := `{"filters": {"Status": ["Pending"]}}`
	a := next("alice", filter)
	b := next("bob", filter)
	if !a.Found || !b.Found || a.Index == b.Index {
		t.Fatalf("alice %+v, bob %+v", a, b)
	}
	if c := next("carol", filter); c.Found {
		t.Errorf("carol got %+v", c)
	}
	if w := s.do(http.MethodPost, "/api/release", "alice", ""); w.Code != http.StatusOK {
		t.Fatalf("release status = %d", w.Code)
	}
	if c := next("carol", filter); !c.Found || c.Index != a.Index {
		t.Errorf("carol got %+v, want alice's released index %d", c, a.Index)
	}
	if d := next("dave", `{"current_index": 0}`); !d.Found || d.Index != 1 {
		t.Errorf("dave got %+v, want index 1", d)
	}
	if w := s.do(http.MethodPost, "/api/heartbeat", "dave", ""); w.Code != http.StatusOK {
		t.Errorf("heartbeat status = %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodGet, "/api/data", "alice", "")
	w := s.do(http.MethodGet, "/api/stats?status=Pending", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decode[store.Stats](t, w)
	if st.Total != 3 || st.ByStatus["Pending"] != 2 || st.ByStatus["done"] != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.Matching == nil || *st.Matching != 2 {
		t.Errorf("Matching = %v", st.Matching)
	}
	if len(st.ActiveSessions) != 1 || st.ActiveSessions[0].Username != "alice" {
		t.Errorf("ActiveSessions = %+v", st.ActiveSessions)
	}
}

func TestAdmin(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("gate", func(t *testing.T) {
		expectError(t, s.do(http.MethodPost, "/api/flush", "alice", ""), http.StatusForbidden, "FORBIDDEN")
		expectError(t, s.do(http.MethodGet, "/api/download", "", ""), http.StatusUnauthorized, "UNAUTHORIZED")
	})

	t.Run("flush", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/flush", "admin", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if rep := decode[store.FlushReport](t, w); !rep.OK || rep.Size == 0 {
			t.Errorf("report = %+v", rep)
		}
	})

	t.Run("download", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/download", "admin", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="records_20240501_090000.json"` {
			t.Errorf("Content-Disposition = %q", cd)
		}
		c, err := records.Parse(w.Body.Bytes())
		if err != nil || len(c) != 3 {
			t.Errorf("download = %d records, %v", len(c), err)
		}
	})

	t.Run("upload", func(t *testing.T) {
		upload := func(content string) *httptest.ResponseRecorder {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("file", "links.json")
			if err != nil {
				t.Fatal(err)
			}
			_, _ = fw.Write([]byte(content))
			_ = mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req.Header.Set("X-Username", "admin")
			w := httptest.NewRecorder()
			s.handler.ServeHTTP(w, req)
			return w
		}
		expectError(t, upload(`{"not": "an array"}`), http.StatusBadRequest, "INVALID_FORMAT")

		w := upload(`[{"Status": "Pending"}]`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if res := decode[map[string]any](t, w); res["items"] != float64(1) || res["saved"] != true {
			t.Errorf("upload = %v", res)
		}
		snap, _ := s.mgr.GetSnapshot("")
		if len(snap.Records) != 1 || !snap.ReloadRequired {
			t.Errorf("snapshot after upload = %+v", snap)
		}
		if _, ok := snap.Records[0].Get(records.FieldFixedBy); ok {
			t.Error("upload stamped fixed_by")
		}
	})

	t.Run("history disabled", func(t *testing.T) {
		if w := s.do(http.MethodGet, "/api/history", "admin", ""); w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestHistory(t *testing.T) {
	repo, err := history.Open(t.TempDir(), "linkreview", "linkreview@localhost")
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, func(c *Config) { c.History = repo })
	w := s.do(http.MethodGet, "/api/history?limit=5", "admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[handlersHistory](t, w); resp.Commits == nil {
		t.Errorf("history = %+v", resp)
	}
}

type handlersHistory struct {
	Commits []map[string]any `json:"commits"`
}

func TestRateLimit(t *testing.T) {
	rl := ratelimit.NewConfig(10) // burst of 1
	defer rl.Close()
	s := newTestServer(t, func(c *Config) { c.RateLimit = rl })
	if w := s.do(http.MethodPost, "/api/release", "alice", ""); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := s.do(http.MethodPost, "/api/release", "alice", "")
	expectError(t, w, http.StatusTooManyRequests, "RATE_LIMITED")
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if w := s.do(http.MethodPost, "/api/release", "bob", ""); w.Code != http.StatusOK {
		t.Errorf("bob status = %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/data", "alice", ""); w.Code != http.StatusOK {
		t.Errorf("reads are limited: status = %d", w.Code)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxRequestBodyBytes = 64 })
	body := `{"index": 0, "updates": {"comment": "` + strings.Repeat("x", 100) + `"}}`
	expectError(t, s.do(http.MethodPost, "/api/update", "alice", body), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodPost, "/api/update", "alice", `{"index": 0, "updates": {"Status": "done"}}`)
	w := s.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "linkreview_mutations_total") {
		t.Errorf("metrics status %d missing linkreview_mutations_total", w.Code)
	}
}
