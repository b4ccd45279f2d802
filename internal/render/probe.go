package render

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// ClashProbeConfig builds a minimal single-node Clash config that routes all
// traffic through the node, for exit-IP probing.
func ClashProbeConfig(n model.Node, httpPort int) ([]byte, error) {
	cp, err := clashProxyFromNode(n.DisplayName(), n)
	if err != nil {
		return nil, err
	}
	cfg := struct {
		Port        int          `yaml:"port"`
		SocksPort   int          `yaml:"socks-port"`
		Mode        string       `yaml:"mode"`
		LogLevel    string       `yaml:"log-level"`
		Proxies     []clashProxy `yaml:"proxies"`
		ProxyGroups []clashGroup `yaml:"proxy-groups"`
		Rules       []string     `yaml:"rules"`
	}{
		Port:      httpPort,
		SocksPort: httpPort + 1,
		Mode:      "global",
		LogLevel:  "silent",
		Proxies:   []clashProxy{cp},
		ProxyGroups: []clashGroup{
			{Name: "GLOBAL", Type: "select", Proxies: []string{cp.Name}},
		},
		Rules: []string{"MATCH,GLOBAL"},
	}
	return yaml.Marshal(cfg)
}

// SingboxProbeConfig is the sing-box equivalent of ClashProbeConfig.
func SingboxProbeConfig(n model.Node, mixedPort int) ([]byte, error) {
	ob, err := sbOutboundFromNode("proxy", n)
	if err != nil {
		return nil, err
	}
	cfg := struct {
		Log       sbLog        `json:"log"`
		Inbounds  []sbInbound  `json:"inbounds"`
		Outbounds []sbOutbound `json:"outbounds"`
		Route     sbRoute      `json:"route"`
	}{
		Log: sbLog{Level: "warn"},
		Inbounds: []sbInbound{
			{Type: "mixed", Tag: "mixed-in", Listen: "127.0.0.1", ListenPort: mixedPort},
		},
		Outbounds: []sbOutbound{ob, {Type: "direct", Tag: "direct"}},
		Route: sbRoute{
			Rules: []sbRouteRule{{Outbound: "proxy"}},
			Final: "proxy",
		},
	}
	return json.MarshalIndent(cfg, "", "  ")
}
