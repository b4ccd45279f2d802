package httpapi

import (
	_ "embed"
	"net/http"
)

// The aggregation form is one embedded page so the server ships as a single
// binary with no asset directory to deploy.
//
//go:embed ui/index.html
var indexPage []byte

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexPage)
}
