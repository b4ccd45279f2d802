package render

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// Field names and shapes must stay in sync with the Clash parser so that a
// serialized document re-parsed by it reproduces the same node identities.
type clashProxy struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`

	Cipher   string `yaml:"cipher,omitempty"`
	Password string `yaml:"password,omitempty"`

	Plugin     string         `yaml:"plugin,omitempty"`
	PluginOpts map[string]any `yaml:"plugin-opts,omitempty"`

	UUID    string       `yaml:"uuid,omitempty"`
	AlterID *int         `yaml:"alterId,omitempty"`
	Network string       `yaml:"network,omitempty"`
	WSOpts  *clashWSOpts `yaml:"ws-opts,omitempty"`
	TLS     bool         `yaml:"tls,omitempty"`
	SNI     string       `yaml:"sni,omitempty"`
	Flow    string       `yaml:"flow,omitempty"`
	SkipCV  bool         `yaml:"skip-cert-verify,omitempty"`

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

type clashGroup struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Proxies  []string `yaml:"proxies"`
	URL      string   `yaml:"url,omitempty"`
	Interval int      `yaml:"interval,omitempty"`
}

type clashConfig struct {
	Proxies     []clashProxy `yaml:"proxies"`
	ProxyGroups []clashGroup `yaml:"proxy-groups"`
	Rules       []string     `yaml:"rules"`
}

func renderClash(nodes []model.Node) (string, error) {
	names := uniqueNames(nodes)

	proxies := make([]clashProxy, 0, len(nodes))
	for i, n := range nodes {
		cp, err := clashProxyFromNode(names[i], n)
		if err != nil {
			return "", err
		}
		proxies = append(proxies, cp)
	}

	cfg := clashConfig{
		Proxies: proxies,
		ProxyGroups: []clashGroup{
			{
				Name:     "自动选择",
				Type:     "url-test",
				Proxies:  names,
				URL:      "http://www.gstatic.com/generate_204",
				Interval: 300,
			},
			{
				Name:    "手动选择",
				Type:    "select",
				Proxies: append([]string{"自动选择"}, names...),
			},
		},
		Rules: []string{
			"DOMAIN-SUFFIX,google.com,自动选择",
			"MATCH,手动选择",
		},
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", &RenderError{
			AppError: model.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Clash YAML 序列化失败",
				Stage:   "render",
			},
			Cause: err,
		}
	}
	return string(out), nil
}

func clashProxyFromNode(name string, n model.Node) (clashProxy, error) {
	cp := clashProxy{Name: name, Server: n.Server, Port: n.Port}

	switch p := n.Proto.(type) {
	case model.SS:
		cp.Type = "ss"
		cp.Cipher = p.Cipher
		cp.Password = p.Password
		if p.PluginName != "" {
			cp.Plugin = p.PluginName
			cp.PluginOpts = make(map[string]any, len(p.PluginOpts))
			for _, kv := range p.PluginOpts {
				cp.PluginOpts[kv.Key] = kv.Value
			}
		}
	case model.SSR:
		cp.Type = "ssr"
		cp.Cipher = p.Cipher
		cp.Password = p.Password
		cp.Protocol = p.Proto
		cp.ProtocolParam = p.ProtoParam
		cp.Obfs = p.Obfs
		cp.ObfsParam = p.ObfsParam
	case model.Vmess:
		cp.Type = "vmess"
		cp.UUID = p.UUID
		aid := p.AlterID
		cp.AlterID = &aid
		cp.Cipher = p.Cipher
		cp.Network = p.Network
		cp.TLS = p.TLS
		cp.SNI = p.SNI
		if p.Network == "ws" {
			cp.WSOpts = wsOpts(p.WSPath, p.WSHost)
		}
	case model.Vless:
		cp.Type = "vless"
		cp.UUID = p.UUID
		cp.Flow = p.Flow
		cp.Network = p.Network
		cp.TLS = p.TLS
		cp.SNI = p.SNI
		if p.Network == "ws" {
			cp.WSOpts = wsOpts(p.WSPath, p.WSHost)
		}
	case model.Trojan:
		cp.Type = "trojan"
		cp.Password = p.Password
		cp.SNI = p.SNI
		cp.SkipCV = p.SkipCertVerify
	case model.HTTPProxy:
		cp.Type = "http"
		cp.Username = p.Username
		cp.Password = p.Password
		cp.TLS = p.TLS
	default:
		return clashProxy{}, &RenderError{
			AppError: model.AppError{
				Code:    "INTERNAL_ERROR",
				Message: fmt.Sprintf("Clash 渲染不支持的协议：%s", n.Proto.Tag()),
				Stage:   "render",
			},
		}
	}
	return cp, nil
}

func wsOpts(path, host string) *clashWSOpts {
	o := &clashWSOpts{Path: path}
	if host != "" {
		o.Headers = map[string]string{"Host": host}
	}
	return o
}
