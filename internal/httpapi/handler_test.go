package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kintree/internal/auth"
	"kintree/internal/family"
	blobmem "kintree/internal/infra/blob/memory"
	storemem "kintree/internal/infra/persistence/memory"
	"kintree/pkg/domain"
)

type apiFixture struct {
	store  *storemem.Store
	svc    *family.Service
	server http.Handler
}

var testSecret = []byte("handler-test-secret")

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := storemem.NewStore(nil)
	svc := family.NewService(store, blobmem.New(),
		family.WithScheduler(func(time.Duration, func()) {}))
	return &apiFixture{
		store:  store,
		svc:    svc,
		server: NewServer(svc, testSecret, nil),
	}
}

func (f *apiFixture) request(t *testing.T, identity *domain.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	if identity != nil {
		token, err := auth.Mint(testSecret, *identity, time.Hour)
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return out
}

func TestUnauthenticatedRequestsGet401(t *testing.T) {
	f := newAPIFixture(t)
	w := f.request(t, nil, http.MethodGet, "/api/v1/members", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := decodeBody(t, w)
	if body["state"] != string(family.StateUnauthenticated) {
		t.Fatalf("expected unauthenticated state, got %v", body["state"])
	}
}

func TestAddAndListMembers(t *testing.T) {
	f := newAPIFixture(t)
	alice := &domain.Identity{UID: "alice"}

	w := f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "Ada"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}

	w = f.request(t, alice, http.MethodGet, "/api/v1/members", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["state"] != string(family.StatePopulated) {
		t.Fatalf("state = %v, want populated", body["state"])
	}
	members, ok := body["members"].([]any)
	if !ok || len(members) != 1 {
		t.Fatalf("unexpected members payload: %v", body["members"])
	}
}

func TestAddRequiresName(t *testing.T) {
	f := newAPIFixture(t)
	alice := &domain.Identity{UID: "alice"}
	w := f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTreeEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	alice := &domain.Identity{UID: "alice"}
	w := f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "root"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	created := decodeBody(t, w)["member"].(map[string]any)
	parentID := created["id"].(string)

	w = f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "child", "parent_id": parentID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create child status = %d", w.Code)
	}

	w = f.request(t, alice, http.MethodGet, "/api/v1/tree", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tree status = %d", w.Code)
	}
	roots, ok := decodeBody(t, w)["roots"].([]any)
	if !ok || len(roots) != 1 {
		t.Fatalf("expected single root, got %v", roots)
	}
}

func TestEditMember(t *testing.T) {
	f := newAPIFixture(t)
	alice := &domain.Identity{UID: "alice"}
	w := f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "Ada"})
	id := decodeBody(t, w)["member"].(map[string]any)["id"].(string)

	w = f.request(t, alice, http.MethodPut, "/api/v1/members/"+id, map[string]any{"name": "Ada Lovelace"})
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["member"].(map[string]any)["name"]; got != "Ada Lovelace" {
		t.Fatalf("name = %v", got)
	}
}

func TestDeleteStatusMapping(t *testing.T) {
	f := newAPIFixture(t)
	alice := &domain.Identity{UID: "alice"}
	bob := &domain.Identity{UID: "bob"}

	w := f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "parent"})
	parentID := decodeBody(t, w)["member"].(map[string]any)["id"].(string)
	w = f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "child", "parent_id": parentID})
	childID := decodeBody(t, w)["member"].(map[string]any)["id"].(string)

	cases := []struct {
		name     string
		identity *domain.Identity
		id       string
		status   int
	}{
		{"non-owner refused", bob, childID, http.StatusForbidden},
		{"children conflict", alice, parentID, http.StatusConflict},
		{"missing member", alice, "ghost", http.StatusNotFound},
		{"owner deletes leaf", alice, childID, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.request(t, tc.identity, http.MethodDelete, "/api/v1/members/"+tc.id, nil)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
		})
	}

	// leaf gone, parent now deletable
	w = f.request(t, alice, http.MethodDelete, "/api/v1/members/"+parentID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("parent delete status = %d", w.Code)
	}
}

func TestDeleteReportsTransientState(t *testing.T) {
	f := newAPIFixture(t)
	alice := &domain.Identity{UID: "alice"}
	w := f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "Ada"})
	id := decodeBody(t, w)["member"].(map[string]any)["id"].(string)

	w = f.request(t, alice, http.MethodDelete, "/api/v1/members/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if got := decodeBody(t, w)["state"]; got != string(family.StateDeleteSucceeded) {
		t.Fatalf("state = %v, want %s", got, family.StateDeleteSucceeded)
	}
}

func TestPhotoUpload(t *testing.T) {
	f := newAPIFixture(t)
	alice := &domain.Identity{UID: "alice"}
	w := f.request(t, alice, http.MethodPost, "/api/v1/members", map[string]any{"name": "Ada"})
	id := decodeBody(t, w)["member"].(map[string]any)["id"].(string)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "portrait.jpg")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("jpeg-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.Close()

	r := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/members/%s/photo", id), &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	token, err := auth.Mint(testSecret, *alice, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("photo status = %d: %s", rec.Code, rec.Body.String())
	}
	member := decodeBody(t, rec)["member"].(map[string]any)
	imageURL, _ := member["image_url"].(string)
	if !strings.Contains(imageURL, "/members/"+id+"/") {
		t.Fatalf("unexpected image url %q", imageURL)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	f := newAPIFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
}
