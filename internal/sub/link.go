package sub

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

func parseLinkList(sourceURL, raw string) (Report, error) {
	rep := Report{Dialect: DialectLinkList}

	// \n split with trailing \r trim keeps CRLF input working.
	lines := strings.Split(raw, "\n")
	rep.Nodes = make([]model.Node, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		n, err := parseLink(line)
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

func parseLink(line string) (model.Node, error) {
	switch {
	case strings.HasPrefix(line, "ss://"):
		return parseSSURI(line)
	case strings.HasPrefix(line, "ssr://"):
		return parseSSRURI(line)
	case strings.HasPrefix(line, "vmess://"):
		return parseVmessURI(line)
	case strings.HasPrefix(line, "vless://"):
		return parseVlessURI(line)
	case strings.HasPrefix(line, "trojan://"):
		return parseTrojanURI(line)
	case strings.HasPrefix(line, "http://"), strings.HasPrefix(line, "https://"):
		return parseHTTPProxyURI(line)
	default:
		return model.Node{}, errors.New("unsupported link scheme")
	}
}

// splitFragment cuts off the #name part and percent-decodes it.
func splitFragment(s string) (rest string, name string, err error) {
	rest, frag, hasFrag := strings.Cut(s, "#")
	if !hasFrag {
		return rest, "", nil
	}
	decoded, err := url.PathUnescape(frag)
	if err != nil {
		return "", "", errors.New("invalid percent-encoding in fragment")
	}
	name = strings.TrimSpace(decoded)
	if strings.ContainsAny(name, "\r\n\x00") {
		return "", "", errors.New("control chars in node name")
	}
	return rest, name, nil
}

func parseHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if port < 1 || port > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return host, port, nil
}

func parseHTTPProxyURI(line string) (model.Node, error) {
	u, err := url.Parse(line)
	if err != nil {
		return model.Node{}, err
	}
	if u.User == nil || u.User.Username() == "" {
		return model.Node{}, errors.New("http proxy link without credentials")
	}
	port := u.Port()
	if port == "" {
		return model.Node{}, errors.New("missing port")
	}
	server, portInt, err := parseHostPort(net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return model.Node{}, err
	}
	pass, _ := u.User.Password()
	name, err := url.PathUnescape(u.Fragment)
	if err != nil {
		return model.Node{}, errors.New("invalid percent-encoding in fragment")
	}
	return model.Node{
		Name:   strings.TrimSpace(name),
		Server: server,
		Port:   portInt,
		Proto: model.HTTPProxy{
			Username: u.User.Username(),
			Password: pass,
			TLS:      u.Scheme == "https",
		},
	}, nil
}
