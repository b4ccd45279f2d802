package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// Mirrors the sing-box parser's outbound shape for identity round-trips.
type sbOutbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Server     string `json:"server,omitempty"`
	ServerPort int    `json:"server_port,omitempty"`

	Method     string `json:"method,omitempty"`
	Password   string `json:"password,omitempty"`
	Plugin     string `json:"plugin,omitempty"`
	PluginOpts string `json:"plugin_opts,omitempty"`

	UUID     string `json:"uuid,omitempty"`
	AlterID  int    `json:"alter_id,omitempty"`
	Security string `json:"security,omitempty"`
	Flow     string `json:"flow,omitempty"`

	Username string `json:"username,omitempty"`

	TLS       *sbTLS       `json:"tls,omitempty"`
	Transport *sbTransport `json:"transport,omitempty"`
}

type sbTLS struct {
	Enabled    bool   `json:"enabled"`
	ServerName string `json:"server_name,omitempty"`
	Insecure   bool   `json:"insecure,omitempty"`
}

type sbTransport struct {
	Type    string            `json:"type"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type sbConfig struct {
	Log       sbLog        `json:"log"`
	DNS       sbDNS        `json:"dns"`
	Inbounds  []sbInbound  `json:"inbounds"`
	Outbounds []sbOutbound `json:"outbounds"`
	Route     sbRoute      `json:"route"`
}

type sbLog struct {
	Level     string `json:"level"`
	Timestamp bool   `json:"timestamp"`
}

type sbDNS struct {
	Servers []sbDNSServer `json:"servers"`
}

type sbDNSServer struct {
	Address string `json:"address"`
}

type sbInbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Listen     string `json:"listen"`
	ListenPort int    `json:"listen_port"`
}

type sbRoute struct {
	Rules []sbRouteRule `json:"rules"`
	Final string        `json:"final"`
}

type sbRouteRule struct {
	Outbound string `json:"outbound"`
}

func renderSingbox(nodes []model.Node) (string, error) {
	names := uniqueNames(nodes)

	outbounds := make([]sbOutbound, 0, len(nodes)+1)
	for i, n := range nodes {
		ob, err := sbOutboundFromNode(names[i], n)
		if err != nil {
			return "", err
		}
		outbounds = append(outbounds, ob)
	}
	outbounds = append(outbounds, sbOutbound{Type: "direct", Tag: "DIRECT"})

	cfg := sbConfig{
		Log: sbLog{Level: "info", Timestamp: true},
		DNS: sbDNS{Servers: []sbDNSServer{{Address: "8.8.8.8"}, {Address: "1.1.1.1"}}},
		Inbounds: []sbInbound{
			{Type: "mixed", Tag: "mixed-in", Listen: "::", ListenPort: 2080},
		},
		Outbounds: outbounds,
		Route: sbRoute{
			Rules: []sbRouteRule{{Outbound: names[0]}},
			Final: names[0],
		},
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", &RenderError{
			AppError: model.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "sing-box JSON 序列化失败",
				Stage:   "render",
			},
			Cause: err,
		}
	}
	return string(out) + "\n", nil
}

func sbOutboundFromNode(tag string, n model.Node) (sbOutbound, error) {
	ob := sbOutbound{Tag: tag, Server: n.Server, ServerPort: n.Port}

	switch p := n.Proto.(type) {
	case model.SS:
		ob.Type = "shadowsocks"
		ob.Method = p.Cipher
		ob.Password = p.Password
		if p.PluginName != "" {
			ob.Plugin = p.PluginName
			ob.PluginOpts = joinPluginOpts(p.PluginOpts)
		}
	case model.Vmess:
		ob.Type = "vmess"
		ob.UUID = p.UUID
		ob.AlterID = p.AlterID
		ob.Security = p.Cipher
		ob.TLS = sbTLSFrom(p.TLS, p.SNI, false)
		ob.Transport = sbTransportFrom(p.Network, p.WSPath, p.WSHost)
	case model.Vless:
		ob.Type = "vless"
		ob.UUID = p.UUID
		ob.Flow = p.Flow
		ob.TLS = sbTLSFrom(p.TLS, p.SNI, false)
		ob.Transport = sbTransportFrom(p.Network, p.WSPath, p.WSHost)
	case model.Trojan:
		ob.Type = "trojan"
		ob.Password = p.Password
		ob.TLS = sbTLSFrom(true, p.SNI, p.SkipCertVerify)
	case model.HTTPProxy:
		ob.Type = "http"
		ob.Username = p.Username
		ob.Password = p.Password
		ob.TLS = sbTLSFrom(p.TLS, "", false)
	case model.SSR:
		// sing-box dropped shadowsocksr support; the closest faithful output
		// is the plain shadowsocks layer without obfs.
		ob.Type = "shadowsocks"
		ob.Method = p.Cipher
		ob.Password = p.Password
	default:
		return sbOutbound{}, &RenderError{
			AppError: model.AppError{
				Code:    "INTERNAL_ERROR",
				Message: fmt.Sprintf("sing-box 渲染不支持的协议：%s", n.Proto.Tag()),
				Stage:   "render",
			},
		}
	}
	return ob, nil
}

func sbTLSFrom(enabled bool, sni string, insecure bool) *sbTLS {
	if !enabled {
		return nil
	}
	return &sbTLS{Enabled: true, ServerName: sni, Insecure: insecure}
}

func sbTransportFrom(network, path, host string) *sbTransport {
	if network != "ws" {
		return nil
	}
	t := &sbTransport{Type: "ws", Path: path}
	if host != "" {
		t.Headers = map[string]string{"Host": host}
	}
	return t
}

func joinPluginOpts(opts []model.KV) string {
	if len(opts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(opts))
	for _, kv := range opts {
		parts = append(parts, kv.Key+"="+kv.Value)
	}
	return strings.Join(parts, ";")
}
