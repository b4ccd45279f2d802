package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/John-Robertt/submerge-go/internal/model"
)

type Options struct {
	Timeout      time.Duration // default 10s
	MaxBytes     int64         // default 5 MiB
	MaxRedirects int           // default 5
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 5 * 1024 * 1024
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = 5
	}
	return o
}

// FetchError classifies one source's failure. Status is the HTTP status this
// service would answer with if the failure turned out to be batch-fatal;
// AppError.Code distinguishes timeout / refused / upstream status / size.
type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error

	// UpstreamStatus is the non-2xx code returned by the source, 0 otherwise.
	UpstreamStatus int
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects  = errors.New("too many redirects")
	errRedirectBadScheme = errors.New("redirect target scheme is not http/https")
)

// FetchText retrieves one subscription source. Transient failures (timeout,
// connection refused/reset, upstream 5xx) are retried exactly once; 4xx and
// malformed input are permanent.
func FetchText(ctx context.Context, rawURL string, opt Options) (string, error) {
	opt = opt.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "仅允许 http/https URL",
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
			Cause: err,
		}
	}

	var text string
	op := func() error {
		var err error
		text, err = fetchOnce(ctx, rawURL, opt)
		if err == nil {
			return nil
		}
		if transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	pol := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 1),
		ctx,
	)
	if err := backoff.Retry(op, pol); err != nil {
		return "", err
	}
	return text, nil
}

func transient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.AppError.Code {
	case "FETCH_TIMEOUT", "FETCH_REFUSED":
		return true
	case "FETCH_BAD_STATUS":
		return fe.UpstreamStatus >= 500
	}
	return false
}

func fetchOnce(ctx context.Context, rawURL string, opt Options) (string, error) {
	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: http.DefaultTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > opt.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "请求 URL 不合法",
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
			Cause: err,
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return "", classifyTransportError(rawURL, opt, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{
			Status:         http.StatusBadGateway,
			UpstreamStatus: resp.StatusCode,
			AppError: model.AppError{
				Code:    "FETCH_BAD_STATUS",
				Message: fmt.Sprintf("订阅源返回非 2xx 状态码：%d", resp.StatusCode),
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
		}
	}

	// Read at most MaxBytes+1 so overflow is detected without buffering the
	// whole oversized body.
	body, err := io.ReadAll(io.LimitReader(resp.Body, opt.MaxBytes+1))
	if err != nil {
		return "", classifyTransportError(rawURL, opt, err)
	}
	if int64(len(body)) > opt.MaxBytes {
		return "", &FetchError{
			Status: http.StatusUnprocessableEntity,
			AppError: model.AppError{
				Code:    "TOO_LARGE",
				Message: fmt.Sprintf("订阅内容过大（>%d bytes）", opt.MaxBytes),
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
		}
	}
	if !utf8.Valid(body) {
		return "", &FetchError{
			Status: http.StatusUnprocessableEntity,
			AppError: model.AppError{
				Code:    "FETCH_INVALID_UTF8",
				Message: "订阅内容不是合法 UTF-8 文本",
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
		}
	}

	return string(body), nil
}

func classifyTransportError(rawURL string, opt Options, err error) error {
	if errors.Is(err, errTooManyRedirects) {
		return &FetchError{
			Status: http.StatusBadGateway,
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: fmt.Sprintf("重定向次数超过上限（>%d）", opt.MaxRedirects),
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	if errors.Is(err, errRedirectBadScheme) {
		return &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "重定向目标仅允许 http/https",
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
			Cause: err,
		}
	}

	// Timeout detection: Go may wrap errors (e.g. *url.Error).
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{
			Status: http.StatusGatewayTimeout,
			AppError: model.AppError{
				Code:    "FETCH_TIMEOUT",
				Message: "拉取订阅源超时",
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return &FetchError{
			Status: http.StatusBadGateway,
			AppError: model.AppError{
				Code:    "FETCH_REFUSED",
				Message: "订阅源拒绝连接",
				Stage:   "fetch_sub",
				URL:     rawURL,
			},
			Cause: err,
		}
	}

	return &FetchError{
		Status: http.StatusBadGateway,
		AppError: model.AppError{
			Code:    "FETCH_FAILED",
			Message: "拉取订阅源失败",
			Stage:   "fetch_sub",
			URL:     rawURL,
		},
		Cause: err,
	}
}
