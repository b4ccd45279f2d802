package sub

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// vmessLink is the V2RayN share format: vmess://base64(JSON). Port/aid arrive
// as either string or number depending on the generator, hence json.Number.
type vmessLink struct {
	PS   string      `json:"ps"`
	Add  string      `json:"add"`
	Port json.Number `json:"port"`
	ID   string      `json:"id"`
	Aid  json.Number `json:"aid"`
	Scy  string      `json:"scy"`
	Net  string      `json:"net"`
	Path string      `json:"path"`
	Host string      `json:"host"`
	TLS  string      `json:"tls"`
	SNI  string      `json:"sni"`
}

func parseVmessURI(line string) (model.Node, error) {
	payload, err := decodeB64ToString(strings.TrimPrefix(line, "vmess://"))
	if err != nil {
		return model.Node{}, err
	}

	var l vmessLink
	if err := json.Unmarshal([]byte(payload), &l); err != nil {
		return model.Node{}, err
	}
	if l.Add == "" || l.ID == "" {
		return model.Node{}, errors.New("vmess link missing server or uuid")
	}

	port, err := numberToPort(l.Port)
	if err != nil {
		return model.Node{}, err
	}
	aid := 0
	if l.Aid != "" {
		aid, err = strconv.Atoi(l.Aid.String())
		if err != nil {
			return model.Node{}, errors.New("invalid alterId")
		}
	}

	cipher := l.Scy
	if cipher == "" {
		cipher = "auto"
	}
	network := l.Net
	if network == "" {
		network = "tcp"
	}
	tls := l.TLS == "tls"
	sni := l.SNI
	if tls && sni == "" {
		sni = l.Host
	}

	p := model.Vmess{
		UUID:    l.ID,
		AlterID: aid,
		Cipher:  cipher,
		Network: network,
		TLS:     tls,
		SNI:     sni,
	}
	if network == "ws" {
		p.WSPath = l.Path
		if p.WSPath == "" {
			p.WSPath = "/"
		}
		p.WSHost = l.Host
	}

	return model.Node{
		Name:   strings.TrimSpace(l.PS),
		Server: l.Add,
		Port:   port,
		Proto:  p,
	}, nil
}

func numberToPort(n json.Number) (int, error) {
	if n == "" {
		return 0, errors.New("missing port")
	}
	port, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, errors.New("port out of range")
	}
	return port, nil
}
