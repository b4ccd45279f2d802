package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// renderPlain emits one canonical share link per node, newline-joined and
// base64-encoded (the V2RayN style the base64 parser accepts back).
func renderPlain(nodes []model.Node) (string, error) {
	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		line, err := canonicalURI(n)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	raw := strings.Join(lines, "\n") + "\n"
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

func canonicalURI(n model.Node) (string, error) {
	switch p := n.Proto.(type) {
	case model.SS:
		return ssURI(n, p), nil
	case model.SSR:
		return ssrURI(n, p), nil
	case model.Vmess:
		return vmessURI(n, p)
	case model.Vless:
		return vlessURI(n, p), nil
	case model.Trojan:
		return trojanURI(n, p), nil
	case model.HTTPProxy:
		return httpURI(n, p), nil
	default:
		return "", &RenderError{
			AppError: model.AppError{
				Code:    "INTERNAL_ERROR",
				Message: fmt.Sprintf("plain 渲染不支持的协议：%s", n.Proto.Tag()),
				Stage:   "render",
			},
		}
	}
}

func uriHost(server string) string {
	// IPv6 host must be wrapped in [] in URIs.
	if strings.Contains(server, ":") && !strings.HasPrefix(server, "[") {
		return "[" + server + "]"
	}
	return server
}

func ssURI(n model.Node, p model.SS) string {
	userInfo := strings.ToLower(p.Cipher) + ":" + p.Password
	userB64 := base64.RawURLEncoding.EncodeToString([]byte(userInfo))

	var b strings.Builder
	b.WriteString("ss://")
	b.WriteString(userB64)
	b.WriteByte('@')
	b.WriteString(uriHost(n.Server))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(n.Port))

	if strings.TrimSpace(p.PluginName) != "" {
		var pb strings.Builder
		pb.WriteString(strings.TrimSpace(p.PluginName))
		for _, kv := range p.PluginOpts {
			pb.WriteByte(';')
			pb.WriteString(strings.TrimSpace(kv.Key))
			pb.WriteByte('=')
			pb.WriteString(strings.TrimSpace(kv.Value))
		}
		b.WriteString("/?plugin=")
		b.WriteString(pctEncode(pb.String()))
	}

	if n.Name != "" {
		b.WriteByte('#')
		b.WriteString(pctEncode(n.Name))
	}
	return b.String()
}

func ssrURI(n model.Node, p model.SSR) string {
	b64 := func(s string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(s))
	}
	main := strings.Join([]string{
		n.Server,
		strconv.Itoa(n.Port),
		p.Proto,
		strings.ToLower(p.Cipher),
		p.Obfs,
		b64(p.Password),
	}, ":")
	query := strings.Join([]string{
		"obfsparam=" + b64(p.ObfsParam),
		"protoparam=" + b64(p.ProtoParam),
		"remarks=" + b64(n.Name),
	}, "&")
	return "ssr://" + base64.RawURLEncoding.EncodeToString([]byte(main+"/?"+query))
}

func vmessURI(n model.Node, p model.Vmess) (string, error) {
	obj := map[string]string{
		"v":    "2",
		"ps":   n.Name,
		"add":  n.Server,
		"port": strconv.Itoa(n.Port),
		"id":   p.UUID,
		"aid":  strconv.Itoa(p.AlterID),
		"scy":  p.Cipher,
		"net":  p.Network,
	}
	if p.Network == "ws" {
		obj["path"] = p.WSPath
		obj["host"] = p.WSHost
	}
	if p.TLS {
		obj["tls"] = "tls"
		obj["sni"] = p.SNI
	}
	// Drop empty fields; some clients choke on them.
	for k, v := range obj {
		if v == "" {
			delete(obj, k)
		}
	}
	payload, err := json.Marshal(obj)
	if err != nil {
		return "", &RenderError{
			AppError: model.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "vmess 链接序列化失败",
				Stage:   "render",
			},
			Cause: err,
		}
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(payload), nil
}

func vlessURI(n model.Node, p model.Vless) string {
	q := url.Values{}
	if p.TLS {
		q.Set("security", "tls")
		if p.SNI != "" {
			q.Set("sni", p.SNI)
		}
	}
	q.Set("type", p.Network)
	if p.Flow != "" {
		q.Set("flow", p.Flow)
	}
	if p.Network == "ws" {
		if p.WSPath != "" {
			q.Set("path", p.WSPath)
		}
		if p.WSHost != "" {
			q.Set("host", p.WSHost)
		}
	}

	var b strings.Builder
	b.WriteString("vless://")
	b.WriteString(p.UUID)
	b.WriteByte('@')
	b.WriteString(uriHost(n.Server))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(n.Port))
	b.WriteByte('?')
	b.WriteString(q.Encode())
	if n.Name != "" {
		b.WriteByte('#')
		b.WriteString(pctEncode(n.Name))
	}
	return b.String()
}

func trojanURI(n model.Node, p model.Trojan) string {
	q := url.Values{}
	if p.SNI != "" {
		q.Set("sni", p.SNI)
	}
	if p.SkipCertVerify {
		q.Set("allowInsecure", "1")
	}

	var b strings.Builder
	b.WriteString("trojan://")
	b.WriteString(pctEncode(p.Password))
	b.WriteByte('@')
	b.WriteString(uriHost(n.Server))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(n.Port))
	if enc := q.Encode(); enc != "" {
		b.WriteByte('?')
		b.WriteString(enc)
	}
	if n.Name != "" {
		b.WriteByte('#')
		b.WriteString(pctEncode(n.Name))
	}
	return b.String()
}

func httpURI(n model.Node, p model.HTTPProxy) string {
	scheme := "http"
	if p.TLS {
		scheme = "https"
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(pctEncode(p.Username))
	b.WriteByte(':')
	b.WriteString(pctEncode(p.Password))
	b.WriteByte('@')
	b.WriteString(uriHost(n.Server))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(n.Port))
	if n.Name != "" {
		b.WriteByte('#')
		b.WriteString(pctEncode(n.Name))
	}
	return b.String()
}
