package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/submerge-go/internal/store"
)

func postProcess(t *testing.T, mux http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/process-subscriptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) (detail, code string) {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
		Error  struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	return body.Detail, body.Error.Code
}

// Two sources share one ss endpooint and the second adds a vmess node: the
// aggregate must contain exactly the two unique nodes, first-seen name kept.
func TestProcess_TwoSourcesOneDuplicate(t *testing.T) {
	const sharedSS = "ss://YWVzLTEyOC1nY206cHc=@h1.example.com:8388#%E8%8A%82%E7%82%B9A"
	const extraVmess = "vmess://eyJwcyI6InZtIiwiYWRkIjoiaDIuZXhhbXBsZS5jb20iLCJwb3J0IjoiNDQzIiwiaWQiOiI2YzNkMmMwNC04OWEyLTRlNTMtYjdlZi0yZDc3ZDU0Yjc1M2YiLCJhaWQiOiIwIn0="

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sub1":
			_, _ = w.Write([]byte(sharedSS + "\n"))
		case "/sub2":
			_, _ = w.Write([]byte(sharedSS + "\n" + extraVmess + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	mux := NewMuxWithOptions(Options{})
	rec := postProcess(t, mux, `{"urls":["`+upstream.URL+`/sub1","`+upstream.URL+`/sub2"],"output_format":"plain"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Content string `json:"new_subscription_content"`
		URL     string `json:"new_subscription_url"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.URL != "" {
		t.Fatalf("url=%q, want empty without a store", resp.URL)
	}

	decoded, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		t.Fatalf("content is not base64: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(decoded), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want 2 unique nodes:\n%s", len(lines), decoded)
	}
	if !strings.HasPrefix(lines[0], "ss://") || !strings.HasPrefix(lines[1], "vmess://") {
		t.Fatalf("lines=%q", lines)
	}
}

func TestProcess_PartialFailureStillSucceeds(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dead" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ss://YWVzLTEyOC1nY206cHc=@h1.example.com:8388#a\n"))
	}))
	defer upstream.Close()

	mux := NewMuxWithOptions(Options{})
	rec := postProcess(t, mux, `{"urls":["`+upstream.URL+`/ok","`+upstream.URL+`/dead"],"output_format":"plain"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProcess_AllSourcesFailed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	mux := NewMuxWithOptions(Options{})
	rec := postProcess(t, mux, `{"urls":["`+upstream.URL+`/a","`+upstream.URL+`/b"],"output_format":"clash"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502; body=%s", rec.Code, rec.Body.String())
	}
	detail, code := decodeErrorBody(t, rec)
	if code != "ALL_SOURCES_FAILED" {
		t.Fatalf("code=%q, want ALL_SOURCES_FAILED", code)
	}
	if detail == "" {
		t.Fatalf("detail must not be empty")
	}
}

func TestProcess_UnparsableSourceCountsAsFailed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("just some prose, nothing proxy-like"))
	}))
	defer upstream.Close()

	mux := NewMuxWithOptions(Options{})
	rec := postProcess(t, mux, `{"urls":["`+upstream.URL+`/x"],"output_format":"plain"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502; body=%s", rec.Code, rec.Body.String())
	}
	_, code := decodeErrorBody(t, rec)
	if code != "ALL_SOURCES_FAILED" {
		t.Fatalf("code=%q, want ALL_SOURCES_FAILED", code)
	}
}

func TestProcess_InvalidRequests(t *testing.T) {
	mux := NewMuxWithOptions(Options{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"urls": [`},
		{"unknown field", `{"urls":["http://h/s"],"output_format":"plain","surprise":1}`},
		{"empty urls", `{"urls":[],"output_format":"plain"}`},
		{"missing urls", `{"output_format":"plain"}`},
		{"bad scheme", `{"urls":["ftp://h/sub"],"output_format":"plain"}`},
		{"no host", `{"urls":["http://"],"output_format":"plain"}`},
	}
	for _, tt := range tests {
		rec := postProcess(t, mux, tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d, want 400; body=%s", tt.name, rec.Code, rec.Body.String())
		}
		_, code := decodeErrorBody(t, rec)
		if code != "INVALID_ARGUMENT" {
			t.Fatalf("%s: code=%q, want INVALID_ARGUMENT", tt.name, code)
		}
	}
}

func TestProcess_UnknownOutputFormat(t *testing.T) {
	mux := NewMuxWithOptions(Options{})
	rec := postProcess(t, mux, `{"urls":["http://h.example.com/sub"],"output_format":"surge"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d, want 422; body=%s", rec.Code, rec.Body.String())
	}
	_, code := decodeErrorBody(t, rec)
	if code != "INVALID_ARGUMENT" {
		t.Fatalf("code=%q, want INVALID_ARGUMENT", code)
	}
}

func TestProcess_WithStore_HostsDocument(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ss://YWVzLTEyOC1nY206cHc=@h1.example.com:8388#a\n"))
	}))
	defer upstream.Close()

	mux := NewMuxWithOptions(Options{Store: st, PublicBaseURL: "https://sub.example.com"})
	rec := postProcess(t, mux, `{"urls":["`+upstream.URL+`/s"],"output_format":"clash"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Content string `json:"new_subscription_content"`
		URL     string `json:"new_subscription_url"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if !strings.HasPrefix(resp.URL, "https://sub.example.com/sub/") {
		t.Fatalf("url=%q, want public base prefix", resp.URL)
	}

	id := strings.TrimPrefix(resp.URL, "https://sub.example.com")
	docReq := httptest.NewRequest(http.MethodGet, id, nil)
	docRec := httptest.NewRecorder()
	mux.ServeHTTP(docRec, docReq)
	if docRec.Code != http.StatusOK {
		t.Fatalf("doc status=%d body=%s", docRec.Code, docRec.Body.String())
	}
	if got := docRec.Header().Get("Content-Type"); got != "text/yaml; charset=utf-8" {
		t.Fatalf("content-type=%q", got)
	}
	if got := docRec.Header().Get("Content-Disposition"); !strings.Contains(got, "config.yaml") {
		t.Fatalf("content-disposition=%q", got)
	}
	if docRec.Body.String() != resp.Content {
		t.Fatalf("hosted document differs from inline content")
	}
}

func TestSubDoc_NotFound(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	mux := NewMuxWithOptions(Options{Store: st})
	req := httptest.NewRequest(http.MethodGet, "/sub/no-such-id", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
	_, code := decodeErrorBody(t, rec)
	if code != "DOC_NOT_FOUND" {
		t.Fatalf("code=%q, want DOC_NOT_FOUND", code)
	}
}

func TestSubDoc_StoreDisabled(t *testing.T) {
	mux := NewMuxWithOptions(Options{})
	req := httptest.NewRequest(http.MethodGet, "/sub/any", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
