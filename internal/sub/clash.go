package sub

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// clashProxy is the superset of per-type fields this service understands in a
// Clash proxies entry. The same shape is what the Clash serializer emits, so
// serialize→parse round-trips preserve node identity.
type clashProxy struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`

	Cipher   string `yaml:"cipher,omitempty"`
	Password string `yaml:"password,omitempty"`

	Plugin     string            `yaml:"plugin,omitempty"`
	PluginOpts map[string]string `yaml:"plugin-opts,omitempty"`

	UUID    string        `yaml:"uuid,omitempty"`
	AlterID int           `yaml:"alterId,omitempty"`
	Network string        `yaml:"network,omitempty"`
	WSOpts  *clashWSOpts  `yaml:"ws-opts,omitempty"`
	TLS     bool          `yaml:"tls,omitempty"`
	SNI     string        `yaml:"sni,omitempty"`
	Server2 string        `yaml:"servername,omitempty"`
	Flow    string        `yaml:"flow,omitempty"`
	SkipCV  bool          `yaml:"skip-cert-verify,omitempty"`

	Protocol      string `yaml:"protocol,omitempty"`
	ProtocolParam string `yaml:"protocol-param,omitempty"`
	Obfs          string `yaml:"obfs,omitempty"`
	ObfsParam     string `yaml:"obfs-param,omitempty"`

	Username string `yaml:"username,omitempty"`
}

type clashWSOpts struct {
	Path    string            `yaml:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

func parseClashYAML(sourceURL, content string) (Report, error) {
	// Entries are kept as raw yaml.Node so one malformed proxy skips that
	// proxy instead of failing the whole source.
	var doc struct {
		Proxies []yaml.Node `yaml:"proxies"`
	}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return Report{}, newParseError(sourceURL, 0, truncateSnippet(content, 200),
			"SUB_PARSE_ERROR", "Clash YAML 解析失败", "", err)
	}
	if len(doc.Proxies) == 0 {
		return Report{}, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "Clash 配置中没有 proxies", "", nil)
	}

	rep := Report{Dialect: DialectClash, Nodes: make([]model.Node, 0, len(doc.Proxies))}
	for i := range doc.Proxies {
		var cp clashProxy
		if err := doc.Proxies[i].Decode(&cp); err != nil {
			skipNode(&rep, sourceURL, doc.Proxies[i].Line, err)
			continue
		}
		n, err := clashProxyToNode(cp)
		if err != nil {
			skipNode(&rep, sourceURL, doc.Proxies[i].Line, err)
			continue
		}
		rep.Nodes = append(rep.Nodes, n)
	}
	if len(rep.Nodes) == 0 {
		return Report{}, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "订阅中没有任何可用节点", "", nil)
	}
	return rep, nil
}

func clashProxyToNode(cp clashProxy) (model.Node, error) {
	if cp.Server == "" {
		return model.Node{}, errors.New("missing server")
	}
	if cp.Port < 1 || cp.Port > 65535 {
		return model.Node{}, errors.New("port out of range")
	}

	n := model.Node{Name: cp.Name, Server: cp.Server, Port: cp.Port}
	sni := cp.SNI
	if sni == "" {
		sni = cp.Server2
	}

	switch cp.Type {
	case "ss":
		if cp.Cipher == "" || cp.Password == "" {
			return model.Node{}, errors.New("ss entry missing cipher or password")
		}
		n.Proto = model.SS{
			Cipher:     cp.Cipher,
			Password:   cp.Password,
			PluginName: cp.Plugin,
			PluginOpts: clashPluginOpts(cp.PluginOpts),
		}
	case "ssr":
		if cp.Cipher == "" || cp.Password == "" {
			return model.Node{}, errors.New("ssr entry missing cipher or password")
		}
		n.Proto = model.SSR{
			Cipher:     cp.Cipher,
			Password:   cp.Password,
			Proto:      cp.Protocol,
			ProtoParam: cp.ProtocolParam,
			Obfs:       cp.Obfs,
			ObfsParam:  cp.ObfsParam,
		}
	case "vmess":
		if cp.UUID == "" {
			return model.Node{}, errors.New("vmess entry missing uuid")
		}
		cipher := cp.Cipher
		if cipher == "" {
			cipher = "auto"
		}
		p := model.Vmess{
			UUID:    cp.UUID,
			AlterID: cp.AlterID,
			Cipher:  cipher,
			Network: defaultNetwork(cp.Network),
			TLS:     cp.TLS,
			SNI:     sni,
		}
		if p.Network == "ws" && cp.WSOpts != nil {
			p.WSPath = cp.WSOpts.Path
			p.WSHost = cp.WSOpts.Headers["Host"]
		}
		n.Proto = p
	case "vless":
		if cp.UUID == "" {
			return model.Node{}, errors.New("vless entry missing uuid")
		}
		p := model.Vless{
			UUID:    cp.UUID,
			Flow:    cp.Flow,
			Network: defaultNetwork(cp.Network),
			TLS:     cp.TLS,
			SNI:     sni,
		}
		if p.Network == "ws" && cp.WSOpts != nil {
			p.WSPath = cp.WSOpts.Path
			p.WSHost = cp.WSOpts.Headers["Host"]
		}
		n.Proto = p
	case "trojan":
		if cp.Password == "" {
			return model.Node{}, errors.New("trojan entry missing password")
		}
		if sni == "" {
			sni = cp.Server
		}
		n.Proto = model.Trojan{Password: cp.Password, SNI: sni, SkipCertVerify: cp.SkipCV}
	case "http":
		n.Proto = model.HTTPProxy{Username: cp.Username, Password: cp.Password, TLS: cp.TLS}
	default:
		return model.Node{}, fmt.Errorf("unsupported proxy type: %q", cp.Type)
	}
	return n, nil
}

// clashPluginOpts flattens the plugin-opts map into the ordered KV form the
// model requires. Known keys come first in a fixed order so output stays
// deterministic across runs.
func clashPluginOpts(m map[string]string) []model.KV {
	if len(m) == 0 {
		return nil
	}
	out := make([]model.KV, 0, len(m))
	for _, k := range []string{"mode", "host", "tls", "path"} {
		if v, ok := m[k]; ok {
			out = append(out, model.KV{Key: k, Value: v})
			delete(m, k)
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, model.KV{Key: k, Value: m[k]})
	}
	return out
}

func defaultNetwork(s string) string {
	if s == "" {
		return "tcp"
	}
	return s
}
