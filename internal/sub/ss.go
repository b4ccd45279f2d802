package sub

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// parseSSURI accepts both SIP002 (ss://b64(method:password)@host:port) and the
// legacy form (ss://b64(method:password@host:port)), plus the optional
// SIP002 plugin query and #name fragment.
func parseSSURI(line string) (model.Node, error) {
	withoutFrag, name, err := splitFragment(line)
	if err != nil {
		return model.Node{}, err
	}

	withoutQuery, query, hasQuery := strings.Cut(withoutFrag, "?")
	pluginName, pluginOpts, err := parseSSPluginQuery(query, hasQuery)
	if err != nil {
		return model.Node{}, err
	}

	rest := strings.TrimPrefix(withoutQuery, "ss://")
	if rest == "" {
		return model.Node{}, errors.New("empty ss uri")
	}

	// SIP002: <b64(method:password)>@<host>:<port>
	if strings.Contains(rest, "@") {
		userB64, hostPart, _ := strings.Cut(rest, "@")
		if userB64 == "" || hostPart == "" {
			return model.Node{}, errors.New("malformed ss uri")
		}

		hostPort := strings.TrimSuffix(hostPart, "/")
		method, password, err := decodeMethodPassword(userB64)
		if err != nil {
			return model.Node{}, err
		}
		server, port, err := parseHostPort(hostPort)
		if err != nil {
			return model.Node{}, err
		}
		return model.Node{
			Name:   name,
			Server: server,
			Port:   port,
			Proto: model.SS{
				Cipher:     method,
				Password:   password,
				PluginName: pluginName,
				PluginOpts: pluginOpts,
			},
		}, nil
	}

	// Legacy: ss://<b64(method:password@host:port)>
	decoded, err := decodeB64ToString(rest)
	if err != nil {
		return model.Node{}, err
	}
	if !utf8.ValidString(decoded) {
		return model.Node{}, errors.New("ss payload is not valid utf-8")
	}

	at := strings.LastIndex(decoded, "@")
	if at < 0 {
		return model.Node{}, errors.New("missing '@' in ss payload")
	}
	method, password, err := splitMethodPassword(decoded[:at])
	if err != nil {
		return model.Node{}, err
	}
	server, port, err := parseHostPort(decoded[at+1:])
	if err != nil {
		return model.Node{}, err
	}
	return model.Node{
		Name:   name,
		Server: server,
		Port:   port,
		Proto: model.SS{
			Cipher:     method,
			Password:   password,
			PluginName: pluginName,
			PluginOpts: pluginOpts,
		},
	}, nil
}

// parseSSPluginQuery extracts the SIP002 "plugin" parameter. net/url.ParseQuery
// rejects the raw semicolons SIP002 uses inside the plugin value, so the query
// is split manually with '&' as the only separator.
func parseSSPluginQuery(query string, hasQuery bool) (string, []model.KV, error) {
	if !hasQuery || query == "" {
		return "", nil, nil
	}

	var pluginValue string
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		k, v, hasEq := strings.Cut(part, "=")
		if !hasEq {
			return "", nil, errors.New("query parameter without '='")
		}
		k, err := url.PathUnescape(k)
		if err != nil {
			return "", nil, err
		}
		v, err = url.PathUnescape(v)
		if err != nil {
			return "", nil, err
		}
		// Other SIP002 params (group, udp, ...) do not affect node identity
		// or output; ignore them instead of failing the node.
		if k != "plugin" {
			continue
		}
		pluginValue = v
	}
	if strings.TrimSpace(pluginValue) == "" {
		return "", nil, nil
	}

	segs := strings.Split(pluginValue, ";")
	pluginName := strings.TrimSpace(segs[0])
	if pluginName == "" {
		return "", nil, errors.New("empty plugin name")
	}
	opts := make([]model.KV, 0, len(segs)-1)
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return "", nil, errors.New("plugin option without '='")
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return "", nil, errors.New("empty plugin option key")
		}
		opts = append(opts, model.KV{Key: k, Value: v})
	}
	return pluginName, opts, nil
}

func decodeMethodPassword(userB64 string) (string, string, error) {
	decoded, err := decodeB64ToString(userB64)
	if err != nil {
		return "", "", err
	}
	if !utf8.ValidString(decoded) {
		return "", "", errors.New("decoded method:password is not valid utf-8")
	}
	return splitMethodPassword(decoded)
}

func splitMethodPassword(s string) (string, string, error) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return "", "", errors.New("missing ':' in method:password")
	}
	method := strings.TrimSpace(s[:colon])
	password := strings.TrimSpace(s[colon+1:])
	if method == "" || password == "" {
		return "", "", errors.New("empty method or password")
	}
	if strings.ContainsAny(method, "\r\n\x00") || strings.ContainsAny(password, "\r\n\x00") {
		return "", "", errors.New("control chars in method/password")
	}
	return method, password, nil
}
