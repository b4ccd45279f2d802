package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/corerun"
	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/merge"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/render"
	"github.com/John-Robertt/submerge-go/internal/sub"
)

const (
	maxRequestBody = 1 << 20
	maxSourceURLs  = 64
)

type processRequest struct {
	URLs         []string `json:"urls"`
	OutputFormat string   `json:"output_format"`
	GeoTag       bool     `json:"geo_tag"`
}

type processResponse struct {
	NewSubscriptionContent string `json:"new_subscription_content"`
	NewSubscriptionURL     string `json:"new_subscription_url,omitempty"`
}

type processHandler struct {
	opt Options
}

func (h processHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, err := decodeProcessRequest(r)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	target, err := render.ParseTarget(req.OutputFormat)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opt.ProcessTimeout)
	defer cancel()

	content, err := h.process(ctx, req, target)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	resp := processResponse{NewSubscriptionContent: content}
	if h.opt.Store != nil {
		if id, err := h.opt.Store.Save(ctx, string(target), content); err != nil {
			log.Printf("store save failed: %v", err)
		} else {
			resp.NewSubscriptionURL = h.opt.PublicBaseURL + "/sub/" + id
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func decodeProcessRequest(r *http.Request) (processRequest, error) {
	var req processRequest

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, requestError("INVALID_ARGUMENT", "请求体不是合法的 JSON", err.Error())
	}

	if len(req.URLs) == 0 {
		return req, requestError("INVALID_ARGUMENT", "urls 不能为空", "至少提供一个订阅链接")
	}
	if len(req.URLs) > maxSourceURLs {
		return req, requestError("INVALID_ARGUMENT", "urls 数量超出上限", "")
	}
	for _, raw := range req.URLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return req, requestError("INVALID_ARGUMENT", "订阅链接必须是 http/https URL", raw)
		}
	}
	return req, nil
}

// process runs the aggregation pipeline: fetch every source, parse whatever
// came back, merge, optionally geo-tag, render, then let the matching core
// binary vet the output when one is available.
func (h processHandler) process(ctx context.Context, req processRequest, target render.Target) (string, error) {
	results, err := fetch.FetchAll(ctx, req.URLs, h.opt.Fetch)
	if err != nil {
		return "", err
	}

	var (
		sources  []merge.SourceNodes
		firstErr error
		failed   int
	)
	for _, res := range results {
		if res.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
			log.Printf("source failed url=%s err=%v", res.URL, res.Err)
			continue
		}
		rep, perr := sub.ParseSource(res.URL, res.Text)
		if perr != nil {
			failed++
			if firstErr == nil {
				firstErr = perr
			}
			log.Printf("source unparsable url=%s err=%v", res.URL, perr)
			continue
		}
		if rep.Skipped > 0 {
			log.Printf("source parsed url=%s dialect=%s nodes=%d skipped=%d", res.URL, rep.Dialect, len(rep.Nodes), rep.Skipped)
		}
		sources = append(sources, merge.SourceNodes{URL: res.URL, Nodes: rep.Nodes})
	}

	if len(sources) == 0 {
		return "", allSourcesFailed(len(results), firstErr)
	}
	if failed > 0 {
		log.Printf("partial aggregation: %d/%d sources failed", failed, len(results))
	}

	nodes := merge.Merge(sources)

	if req.GeoTag && h.opt.Geo != nil {
		nodes = h.opt.Geo.TagAll(ctx, nodes)
	}

	content, err := render.Render(target, nodes)
	if err != nil {
		return "", err
	}

	if err := h.validateWithCore(ctx, target, content); err != nil {
		return "", err
	}
	return content, nil
}

func allSourcesFailed(total int, cause error) error {
	hint := ""
	if cause != nil {
		hint = cause.Error()
	}
	return apiError(http.StatusBadGateway, model.AppError{
		Code:    "ALL_SOURCES_FAILED",
		Message: "所有订阅源均处理失败",
		Stage:   "fetch_subs",
		Hint:    hint,
	}, cause)
}

// validateWithCore feeds the rendered config to the real client core
// (mihomo / sing-box) and fails the request if the core rejects it. Plain
// output has no core; a missing cache means validation is off entirely.
func (h processHandler) validateWithCore(ctx context.Context, target render.Target, content string) error {
	coreName := render.CoreName(target)
	if coreName == "" || h.opt.Cores == nil {
		return nil
	}

	core, err := h.opt.Cores.Get(ctx, coreName)
	if err != nil {
		return err
	}

	job, err := corerun.NewJob(h.opt.ScratchRoot)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := job.Close(); cerr != nil {
			log.Printf("scratch cleanup failed dir=%s err=%v", job.Dir(), cerr)
		}
	}()

	cfgPath, err := job.WriteFile(render.ConfigFileName(target), []byte(content))
	if err != nil {
		return err
	}

	_, err = corerun.Run(ctx, core.Path, render.CheckArgs(target, job.Dir(), cfgPath), 0)
	if err != nil {
		var ce *corerun.ConvertError
		if errors.As(err, &ce) {
			log.Printf("core check rejected output core=%s err=%v", coreName, err)
		}
		return err
	}
	return nil
}
