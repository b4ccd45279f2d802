package sub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// singboxOutbound is the superset of per-type fields this service understands
// in a sing-box outbound. Mirrors what the sing-box serializer emits.
type singboxOutbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`

	Method     string `json:"method,omitempty"`
	Password   string `json:"password,omitempty"`
	Plugin     string `json:"plugin,omitempty"`
	PluginOpts string `json:"plugin_opts,omitempty"`

	UUID     string `json:"uuid,omitempty"`
	AlterID  int    `json:"alter_id,omitempty"`
	Security string `json:"security,omitempty"`
	Flow     string `json:"flow,omitempty"`

	Username string `json:"username,omitempty"`

	TLS       *singboxTLS       `json:"tls,omitempty"`
	Transport *singboxTransport `json:"transport,omitempty"`
}

type singboxTLS struct {
	Enabled    bool   `json:"enabled"`
	ServerName string `json:"server_name,omitempty"`
	Insecure   bool   `json:"insecure,omitempty"`
}

type singboxTransport struct {
	Type    string            `json:"type"`
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func parseSingboxJSON(sourceURL, content string) (Report, error) {
	var doc struct {
		Outbounds []json.RawMessage `json:"outbounds"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return Report{}, newParseError(sourceURL, 0, truncateSnippet(content, 200),
			"SUB_PARSE_ERROR", "sing-box JSON 解析失败", "", err)
	}
	if len(doc.Outbounds) == 0 {
		return Report{}, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "sing-box 配置中没有 outbounds", "", nil)
	}

	rep := Report{Dialect: DialectSingbox, Nodes: make([]model.Node, 0, len(doc.Outbounds))}
	for i, raw := range doc.Outbounds {
		var ob singboxOutbound
		if err := json.Unmarshal(raw, &ob); err != nil {
			skipNode(&rep, sourceURL, i+1, err)
			continue
		}
		switch ob.Type {
		case "direct", "block", "dns", "selector", "urltest", "":
			// Routing outbounds, not proxy endpoints.
			continue
		}
		n, err := singboxOutboundToNode(ob)
		if err != nil {
			skipNode(&rep, sourceURL, i+1, err)
			continue
		}
		rep.Nodes = append(rep.Nodes, n)
	}
	if len(rep.Nodes) == 0 {
		return Report{}, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "订阅中没有任何可用节点", "", nil)
	}
	return rep, nil
}

func singboxOutboundToNode(ob singboxOutbound) (model.Node, error) {
	if ob.Server == "" {
		return model.Node{}, errors.New("missing server")
	}
	if ob.ServerPort < 1 || ob.ServerPort > 65535 {
		return model.Node{}, errors.New("port out of range")
	}

	n := model.Node{Name: ob.Tag, Server: ob.Server, Port: ob.ServerPort}

	tlsOn := ob.TLS != nil && ob.TLS.Enabled
	sni := ""
	if ob.TLS != nil {
		sni = ob.TLS.ServerName
	}
	network := "tcp"
	wsPath, wsHost := "", ""
	if ob.Transport != nil && ob.Transport.Type == "ws" {
		network = "ws"
		wsPath = ob.Transport.Path
		wsHost = ob.Transport.Headers["Host"]
	}

	switch ob.Type {
	case "shadowsocks":
		if ob.Method == "" || ob.Password == "" {
			return model.Node{}, errors.New("shadowsocks outbound missing method or password")
		}
		ss := model.SS{Cipher: ob.Method, Password: ob.Password, PluginName: ob.Plugin}
		if ob.Plugin != "" {
			ss.PluginOpts = splitSingboxPluginOpts(ob.PluginOpts)
		}
		n.Proto = ss
	case "vmess":
		if ob.UUID == "" {
			return model.Node{}, errors.New("vmess outbound missing uuid")
		}
		security := ob.Security
		if security == "" {
			security = "auto"
		}
		n.Proto = model.Vmess{
			UUID:    ob.UUID,
			AlterID: ob.AlterID,
			Cipher:  security,
			Network: network,
			WSPath:  wsPath,
			WSHost:  wsHost,
			TLS:     tlsOn,
			SNI:     sni,
		}
	case "vless":
		if ob.UUID == "" {
			return model.Node{}, errors.New("vless outbound missing uuid")
		}
		n.Proto = model.Vless{
			UUID:    ob.UUID,
			Flow:    ob.Flow,
			Network: network,
			WSPath:  wsPath,
			WSHost:  wsHost,
			TLS:     tlsOn,
			SNI:     sni,
		}
	case "trojan":
		if ob.Password == "" {
			return model.Node{}, errors.New("trojan outbound missing password")
		}
		if sni == "" {
			sni = ob.Server
		}
		insecure := ob.TLS != nil && ob.TLS.Insecure
		n.Proto = model.Trojan{Password: ob.Password, SNI: sni, SkipCertVerify: insecure}
	case "http":
		n.Proto = model.HTTPProxy{Username: ob.Username, Password: ob.Password, TLS: tlsOn}
	default:
		return model.Node{}, fmt.Errorf("unsupported outbound type: %q", ob.Type)
	}
	return n, nil
}

// splitSingboxPluginOpts decodes the sing-box "k=v;k=v" plugin option string,
// keeping option order so serialized output stays deterministic.
func splitSingboxPluginOpts(s string) []model.KV {
	var opts []model.KV
	for _, seg := range strings.Split(s, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		k, v, _ := strings.Cut(seg, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		opts = append(opts, model.KV{Key: k, Value: v})
	}
	return opts
}
