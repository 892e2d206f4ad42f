package api

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

	"github.com/starford/krecord/internal/models"
	"github.com/starford/krecord/internal/recordservice"
	"github.com/starford/krecord/internal/store"
	"github.com/starford/krecord/internal/testutil"
)

// testEnv sets up a temp data root, SQLite DB, service, and router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*recordservice.Service, http.Handler) {
	t.Helper()

	db := testutil.TestDB(t)
	st := testutil.TestStore(t, store.WithLocator(db))
	svc := recordservice.New(st, db, testutil.Logger())
	return svc, NewRouter(svc, authToken != "", authToken, nil)
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func appendDiary(t *testing.T, h http.Handler, in map[string]any) models.DiaryEntry {
	t.Helper()
	w := do(t, h, http.MethodPost, "/diary", in)
	if w.Code != http.StatusCreated {
		t.Fatalf("append status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[models.DiaryEntry](t, w)
}

func TestAppendAndGetDiary(t *testing.T) {
	_, router := testEnv(t, "")

	e := appendDiary(t, router, map[string]any{
		"title":      "Run",
		"occurredAt": "2024-03-05T08:00:00Z",
		"content":    "5k",
		"tags":       []string{"sport"},
	})
	if !strings.HasPrefix(e.Path, "content/2024/202403/20240305/") {
		t.Errorf("path = %q", e.Path)
	}

	w := do(t, router, http.MethodGet, "/diary/"+e.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[models.DiaryEntry](t, w)
	if got.Title != "Run" || got.Content != "5k" || len(got.Tags) != 1 {
		t.Errorf("entry = %+v", got)
	}
	if !got.OccurredAt.Equal(time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("occurredAt = %v", got.OccurredAt)
	}
}

func TestAppendValidation(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/diary", map[string]any{"content": "no title"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing title = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/diary", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestAppendDuplicateID(t *testing.T) {
	_, router := testEnv(t, "")

	appendDiary(t, router, map[string]any{"id": "diary-fixed", "title": "A"})
	w := do(t, router, http.MethodPost, "/diary", map[string]any{"id": "diary-fixed", "title": "B"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate id = %d, want 409", w.Code)
	}
}

func TestUpdateDiary(t *testing.T) {
	_, router := testEnv(t, "")

	parent := appendDiary(t, router, map[string]any{"title": "Parent", "occurredAt": "2024-01-15T00:00:00Z"})
	child := appendDiary(t, router, map[string]any{
		"title": "Child", "occurredAt": "2024-01-15T01:00:00Z", "parentId": parent.ID, "mood": "ok",
	})
	if !strings.Contains(child.Path, "/children/") {
		t.Fatalf("child path = %q", child.Path)
	}

	w := do(t, router, http.MethodPut, "/diary/"+child.ID, map[string]any{"parentId": nil, "title": "Free"})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode[models.DiaryEntry](t, w)
	if got.ParentID != nil || strings.Contains(got.Path, "/children/") {
		t.Errorf("entry should be detached: %+v", got)
	}
	if got.Title != "Free" || got.Mood != "ok" {
		t.Errorf("partial update lost fields: %+v", got)
	}

	w = do(t, router, http.MethodPut, "/diary/diary-ghost", map[string]any{"title": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestDeleteDiary(t *testing.T) {
	_, router := testEnv(t, "")

	e := appendDiary(t, router, map[string]any{"title": "Bye"})
	if w := do(t, router, http.MethodDelete, "/diary/"+e.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/diary/"+e.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/diary/"+e.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestListDiaries(t *testing.T) {
	_, router := testEnv(t, "")

	appendDiary(t, router, map[string]any{"title": "Old", "occurredAt": "2024-01-01T00:00:00Z", "tags": []string{"a"}})
	appendDiary(t, router, map[string]any{"title": "Mid", "occurredAt": "2024-02-01T00:00:00Z"})
	appendDiary(t, router, map[string]any{"title": "New", "occurredAt": "2024-03-01T00:00:00Z", "tags": []string{"a"}})

	w := do(t, router, http.MethodGet, "/diary?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	resp := decode[DiaryListResponse](t, w)
	if resp.Total != 3 || len(resp.Diaries) != 2 || resp.Diaries[0].Title != "New" {
		t.Errorf("page = %+v", resp)
	}

	resp = decode[DiaryListResponse](t, do(t, router, http.MethodGet, "/diary?tag=a&offset=1", nil))
	if resp.Total != 2 || len(resp.Diaries) != 1 || resp.Diaries[0].Title != "Old" {
		t.Errorf("tag page = %+v", resp)
	}

	if w := do(t, router, http.MethodGet, "/diary?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/diary?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric limit = %d, want 400", w.Code)
	}
}

func TestChildren(t *testing.T) {
	_, router := testEnv(t, "")

	parent := appendDiary(t, router, map[string]any{"title": "Parent"})
	appendDiary(t, router, map[string]any{"title": "Kid", "parentId": parent.ID})

	resp := decode[DiaryListResponse](t, do(t, router, http.MethodGet, "/diary/"+parent.ID+"/children", nil))
	if len(resp.Diaries) != 1 || resp.Diaries[0].Title != "Kid" {
		t.Errorf("children = %+v", resp)
	}
	if w := do(t, router, http.MethodGet, "/diary/diary-none/children", nil); w.Code != http.StatusNotFound {
		t.Errorf("children of missing = %d, want 404", w.Code)
	}
}

func TestSheetLifecycle(t *testing.T) {
	_, router := testEnv(t, "")

	e := appendDiary(t, router, map[string]any{"title": "Trade"})

	w := do(t, router, http.MethodPost, "/sheets", map[string]any{"name": "BTC Daily"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create sheet = %d, body = %s", w.Code, w.Body.String())
	}
	sh := decode[models.Sheet](t, w)

	w = do(t, router, http.MethodPost, "/sheets/"+sh.ID+"/rows", map[string]any{
		"date": "2024-03-05", "open": 1, "high": 2, "low": 0.5, "close": 1.5, "diaryRefs": []string{e.ID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add row = %d, body = %s", w.Code, w.Body.String())
	}
	row := decode[models.SheetRow](t, w)

	rel := decode[models.RelationsMap](t, do(t, router, http.MethodGet, "/relations", nil))
	if ids := rel.DiariesToSheets[e.ID]; len(ids) != 1 || ids[0] != row.ID {
		t.Errorf("relations = %+v", rel)
	}

	w = do(t, router, http.MethodPut, "/sheets/"+sh.ID+"/rows/"+row.ID, map[string]any{
		"date": "2024-03-05", "open": 1, "close": 3, "note": "a, \"quoted\"\nnote",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update row = %d, body = %s", w.Code, w.Body.String())
	}

	list := decode[SheetListResponse](t, do(t, router, http.MethodGet, "/sheets", nil))
	if len(list.Sheets) != 1 || len(list.Sheets[0].Rows) != 1 {
		t.Fatalf("sheets = %+v", list)
	}
	got := list.Sheets[0].Rows[0]
	if got.Close != 3 || got.Note != "a, \"quoted\"\nnote" || len(got.DiaryRefs) != 0 {
		t.Errorf("row = %+v", got)
	}

	w = do(t, router, http.MethodPatch, "/sheets/"+sh.ID, map[string]any{"description": "daily candles"})
	if w.Code != http.StatusOK || decode[models.Sheet](t, w).Description != "daily candles" {
		t.Errorf("patch sheet = %d, body = %s", w.Code, w.Body.String())
	}

	if w := do(t, router, http.MethodDelete, "/sheets/"+sh.ID+"/rows/"+row.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete row = %d", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/sheets/"+sh.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete sheet = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/sheets/"+sh.ID+"/rows", map[string]any{"date": "2024-01-01"}); w.Code != http.StatusNotFound {
		t.Errorf("row on deleted sheet = %d, want 404", w.Code)
	}
}

func TestAddRowValidation(t *testing.T) {
	_, router := testEnv(t, "")
	sh := decode[models.Sheet](t, do(t, router, http.MethodPost, "/sheets", map[string]any{"name": "S"}))
	if w := do(t, router, http.MethodPost, "/sheets/"+sh.ID+"/rows", map[string]any{"open": 1}); w.Code != http.StatusBadRequest {
		t.Errorf("row without date = %d, want 400", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	e := appendDiary(t, router, map[string]any{"title": "Find", "content": "uniquetoken here"})

	w := do(t, router, http.MethodGet, "/search?q=uniquetoken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[SearchResponse](t, w)
	if len(resp.Results) != 1 || resp.Results[0].ID != e.ID {
		t.Errorf("search results = %+v", resp.Results)
	}

	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}
}

func TestUploadAndServeAsset(t *testing.T) {
	_, router := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "photo.png")
	_, _ = fw.Write([]byte("pngdata"))
	_ = mw.WriteField("occurredAt", "2024-01-15T10:00:00Z")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	up := decode[UploadResponse](t, w)
	if up.Path != "content/2024/202401/20240115/imgs/photo.png" || up.Size != 7 {
		t.Errorf("upload = %+v", up)
	}

	w = do(t, router, http.MethodGet, up.URL, nil)
	if w.Code != http.StatusOK || w.Body.String() != "pngdata" {
		t.Errorf("serve = %d %q", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/assets/relations/relations.json", nil); w.Code != http.StatusNotFound {
		t.Errorf("non-content asset = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/assets/content/../relations/relations.json", nil); w.Code == http.StatusOK {
		t.Error("traversal must not be served")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	svc, router := testEnv(t, "")

	testutil.WriteFile(t, svc.Store(), "content/2024/202401/20240101/x.md",
		"---\nid: diary-x\ntitle: X\noccurredAt: 2024-02-02T00:00:00.000Z\n---\n")
	w := do(t, router, http.MethodPost, "/normalize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("normalize = %d, body = %s", w.Code, w.Body.String())
	}
	var rep struct {
		Moved int `json:"moved"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.Moved != 1 {
		t.Errorf("report = %s", w.Body.String())
	}
	e := decode[models.DiaryEntry](t, do(t, router, http.MethodGet, "/diary/diary-x", nil))
	if !strings.HasPrefix(e.Path, "content/2024/202402/20240202/") {
		t.Errorf("path = %q", e.Path)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"title": "auth"})
	req := httptest.NewRequest(http.MethodPost, "/diary", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/diary", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/diary", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/diary", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}
