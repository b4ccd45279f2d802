package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/render"
	"github.com/John-Robertt/submerge-go/internal/store"
)

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}

// handleSubDoc serves a previously generated document so clash/sing-box
// clients can pull it as a regular subscription URL.
func (h processHandler) handleSubDoc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if h.opt.Store == nil {
		writeDocNotFound(w, id)
		return
	}

	doc, err := h.opt.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDocNotFound(w, id)
			return
		}
		log.Printf("store get failed id=%s err=%v", id, err)
		writeErrorFromErr(w, err)
		return
	}

	target, err := render.ParseTarget(doc.Format)
	if err != nil {
		// Format column only ever holds values we wrote; anything else is
		// a bug or a tampered database.
		writeErrorFromErr(w, err)
		return
	}

	w.Header().Set("Content-Type", render.ContentType(target))
	// Fixed ASCII filenames, no RFC 5987 dance needed.
	w.Header().Set("Content-Disposition", `attachment; filename="`+render.ConfigFileName(target)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc.Content))
}

func writeDocNotFound(w http.ResponseWriter, id string) {
	WriteError(w, http.StatusNotFound, model.AppError{
		Code:    "DOC_NOT_FOUND",
		Message: "订阅文档不存在或已过期",
		Stage:   "serve_doc",
		Hint:    id,
	})
}
