package sub

import (
	"errors"
	"net"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// parseSSRURI: ssr://base64(host:port:proto:method:obfs:base64(pass)/?params)
// where obfsparam/protoparam/remarks query values are base64 as well.
func parseSSRURI(line string) (model.Node, error) {
	payload, err := decodeB64ToString(strings.TrimPrefix(line, "ssr://"))
	if err != nil {
		return model.Node{}, err
	}

	main, query, _ := strings.Cut(payload, "/?")
	parts := strings.Split(main, ":")
	if len(parts) < 6 {
		return model.Node{}, errors.New("ssr payload needs 6 colon-separated fields")
	}
	// Rejoin the host part: IPv6 hosts contain colons, the trailing five
	// fields never do.
	host := strings.Join(parts[:len(parts)-5], ":")
	tail := parts[len(parts)-5:]

	server, port, err := parseHostPort(net.JoinHostPort(host, tail[0]))
	if err != nil {
		return model.Node{}, err
	}
	proto, method, obfs := tail[1], tail[2], tail[3]
	password, err := decodeB64ToString(tail[4])
	if err != nil {
		return model.Node{}, err
	}
	if password == "" {
		return model.Node{}, errors.New("empty ssr password")
	}

	var obfsParam, protoParam, name string
	for _, kvPart := range strings.Split(query, "&") {
		k, v, ok := strings.Cut(kvPart, "=")
		if !ok {
			continue
		}
		decoded, err := decodeB64ToString(v)
		if err != nil {
			continue
		}
		switch k {
		case "obfsparam":
			obfsParam = decoded
		case "protoparam":
			protoParam = decoded
		case "remarks":
			name = strings.TrimSpace(decoded)
		}
	}

	return model.Node{
		Name:   name,
		Server: server,
		Port:   port,
		Proto: model.SSR{
			Cipher:     method,
			Password:   password,
			Proto:      proto,
			ProtoParam: protoParam,
			Obfs:       obfs,
			ObfsParam:  obfsParam,
		},
	}, nil
}
