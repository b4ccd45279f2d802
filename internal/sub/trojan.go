package sub

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// parseTrojanURI: trojan://password@server:port?sni=...&allowInsecure=1#name
func parseTrojanURI(line string) (model.Node, error) {
	u, err := url.Parse(line)
	if err != nil {
		return model.Node{}, err
	}
	if u.User == nil || u.User.Username() == "" {
		return model.Node{}, errors.New("trojan link missing password")
	}
	server, port, err := uriHostPort(u)
	if err != nil {
		return model.Node{}, err
	}

	q := u.Query()
	sni := q.Get("sni")
	if sni == "" {
		sni = q.Get("peer")
	}
	if sni == "" {
		// SNI matters for trojan; fall back to the server name.
		sni = server
	}

	name, err := url.PathUnescape(u.EscapedFragment())
	if err != nil {
		return model.Node{}, errors.New("invalid percent-encoding in fragment")
	}

	return model.Node{
		Name:   strings.TrimSpace(name),
		Server: server,
		Port:   port,
		Proto: model.Trojan{
			Password:       u.User.Username(),
			SNI:            sni,
			SkipCertVerify: q.Get("allowInsecure") == "1",
		},
	}, nil
}

// parseVlessURI: vless://uuid@server:port?security=tls&sni=...&type=ws&path=...#name
func parseVlessURI(line string) (model.Node, error) {
	u, err := url.Parse(line)
	if err != nil {
		return model.Node{}, err
	}
	if u.User == nil || u.User.Username() == "" {
		return model.Node{}, errors.New("vless link missing uuid")
	}
	server, port, err := uriHostPort(u)
	if err != nil {
		return model.Node{}, err
	}

	q := u.Query()
	network := q.Get("type")
	if network == "" {
		network = "tcp"
	}
	tls := q.Get("security") == "tls"
	sni := q.Get("sni")
	if tls && sni == "" {
		sni = server
	}

	p := model.Vless{
		UUID:    u.User.Username(),
		Flow:    q.Get("flow"),
		Network: network,
		TLS:     tls,
		SNI:     sni,
	}
	if network == "ws" {
		p.WSPath = q.Get("path")
		if p.WSPath == "" {
			p.WSPath = "/"
		}
		p.WSHost = q.Get("host")
	}

	name, err := url.PathUnescape(u.EscapedFragment())
	if err != nil {
		return model.Node{}, errors.New("invalid percent-encoding in fragment")
	}

	return model.Node{
		Name:   strings.TrimSpace(name),
		Server: server,
		Port:   port,
		Proto:  p,
	}, nil
}

func uriHostPort(u *url.URL) (string, int, error) {
	if u.Hostname() == "" || u.Port() == "" {
		return "", 0, errors.New("missing host or port")
	}
	return parseHostPort(net.JoinHostPort(u.Hostname(), u.Port()))
}
