package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// Untyped errors wrapping os errors carry filesystem paths in their text.
// The fallback branch must not echo any of that into the response body.
func TestWriteErrorFromErr_UntypedErrorHidesInternalDetail(t *testing.T) {
	cause := &os.PathError{
		Op:   "mkdir",
		Path: "/srv/scratch/2f7c61d8-secret",
		Err:  os.ErrPermission,
	}
	err := fmt.Errorf("create scratch dir: %w", cause)

	rec := httptest.NewRecorder()
	writeErrorFromErr(rec, err)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusInternalServerError)
	}
	body := rec.Body.String()
	for _, leak := range []string{"/srv/scratch", "2f7c61d8-secret", "mkdir", "permission denied", "scratch dir"} {
		if strings.Contains(body, leak) {
			t.Fatalf("response leaks %q: %s", leak, body)
		}
	}
	if strings.Contains(body, `"hint"`) {
		t.Fatalf("fallback response must not carry a hint: %s", body)
	}
	detail, code := decodeErrorBody(t, rec)
	if code != "INTERNAL_ERROR" {
		t.Fatalf("code=%q want=INTERNAL_ERROR", code)
	}
	if detail != "服务端内部错误" {
		t.Fatalf("detail=%q", detail)
	}
}

func TestWriteErrorFromErr_ScratchWriteFailureHidesPath(t *testing.T) {
	err := fmt.Errorf("write scratch file: %w", errors.New("open /tmp/jobs/abc/config.yaml: no space left on device"))

	rec := httptest.NewRecorder()
	writeErrorFromErr(rec, err)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rec.Body.String(), "/tmp/jobs") {
		t.Fatalf("response leaks scratch path: %s", rec.Body.String())
	}
}
