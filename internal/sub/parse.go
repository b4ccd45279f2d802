// Package sub decodes raw subscription bytes into canonical nodes. Three
// dialects are recognized: base64 (or raw) proxy-URI lists, Clash YAML and
// sing-box JSON.
package sub

import (
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

type Dialect string

const (
	DialectLinkList Dialect = "links"
	DialectClash    Dialect = "clash"
	DialectSingbox  Dialect = "singbox"
)

// Report is the outcome of parsing one source. Skipped counts entries that
// were individually malformed; partial success within a source is preserved.
type Report struct {
	Dialect Dialect
	Nodes   []model.Node
	Skipped int
}

// ParseSource detects the dialect and decodes the content into nodes.
// Detection order: proxy-URI list (raw, then base64-decoded) first, then
// Clash YAML with a proxies key, then sing-box JSON with an outbounds key.
// Content matching none of them yields SUB_UNRECOGNIZED_FORMAT.
func ParseSource(sourceURL, content string) (Report, error) {
	s := strings.TrimSpace(stripUTF8BOM(content))
	if s == "" {
		return Report{}, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "订阅内容为空", "", nil)
	}

	if looksLikeLinkList(s) {
		return parseLinkList(sourceURL, s)
	}

	if decoded, err := decodeSubscriptionBase64(s); err == nil {
		decoded = strings.TrimSpace(stripUTF8BOM(decoded))
		if looksLikeLinkList(decoded) {
			return parseLinkList(sourceURL, decoded)
		}
	}

	if strings.Contains(s, "proxies:") {
		return parseClashYAML(sourceURL, s)
	}

	if strings.HasPrefix(s, "{") && strings.Contains(s, "\"outbounds\"") {
		return parseSingboxJSON(sourceURL, s)
	}

	return Report{}, newParseError(sourceURL, 0, truncateSnippet(s, 200),
		"SUB_UNRECOGNIZED_FORMAT", "无法识别的订阅格式（支持 base64 链接列表 / Clash YAML / sing-box JSON）", "", nil)
}

func looksLikeLinkList(s string) bool {
	for _, scheme := range []string{"ss://", "ssr://", "vmess://", "vless://", "trojan://"} {
		if strings.Contains(s, scheme) {
			return true
		}
	}
	// http(s):// is too common to match by substring: Clash YAML and
	// sing-box JSON routinely contain plain URLs. An http-proxy-only list
	// is accepted only when every non-empty line is itself such a URI.
	seen := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			return false
		}
		seen = true
	}
	return seen
}

// skipNode records one malformed entry without failing the whole source.
func skipNode(rep *Report, sourceURL string, line int, cause error) {
	rep.Skipped++
	log.Printf("sub: skip malformed node url=%s line=%d err=%v", sourceURL, line, cause)
}

func decodeSubscriptionBase64(s string) (string, error) {
	b, err := decodeB64ToBytes(removeSpaceTabCRLF(s))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeB64ToString(s string) (string, error) {
	b, err := decodeB64ToBytes(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeB64ToBytes(s string) ([]byte, error) {
	// Try standard alphabet (with padding) first, then URL-safe, then raw (no padding).
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func removeSpaceTabCRLF(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func newParseError(sourceURL string, lineNo int, snippet string, code string, message string, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "parse_sub",
			URL:     sourceURL,
			Line:    lineNo,
			Snippet: snippet,
			Hint:    hint,
		},
		Cause: cause,
	}
}
