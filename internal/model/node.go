package model

import "strconv"

type KV struct {
	Key   string
	Value string
}

// Protocol is the closed set of per-protocol parameter variants. Serializers
// type-switch over the concrete types, so adding a protocol means adding one
// variant here plus one case per serializer.
type Protocol interface {
	// Tag is the canonical protocol name ("ss", "vmess", ...).
	Tag() string
	// Credential is the primary credential used for node identity:
	// password for ss/ssr/trojan/http, uuid for vmess/vless.
	Credential() string
}

type SS struct {
	Cipher   string
	Password string

	// PluginName/PluginOpts come from the SIP002 "plugin" query parameter.
	// PluginOpts must preserve order (no map) to keep output deterministic.
	PluginName string
	PluginOpts []KV
}

func (SS) Tag() string          { return "ss" }
func (p SS) Credential() string { return p.Password }

type SSR struct {
	Cipher     string
	Password   string
	Proto      string
	ProtoParam string
	Obfs       string
	ObfsParam  string
}

func (SSR) Tag() string          { return "ssr" }
func (p SSR) Credential() string { return p.Password }

type Vmess struct {
	UUID    string
	AlterID int
	Cipher  string // "auto" when the link does not specify one

	Network string // "tcp", "ws", ...
	WSPath  string
	WSHost  string
	TLS     bool
	SNI     string
}

func (Vmess) Tag() string          { return "vmess" }
func (p Vmess) Credential() string { return p.UUID }

type Vless struct {
	UUID string
	Flow string

	Network string
	WSPath  string
	WSHost  string
	TLS     bool
	SNI     string
}

func (Vless) Tag() string          { return "vless" }
func (p Vless) Credential() string { return p.UUID }

type Trojan struct {
	Password       string
	SNI            string
	SkipCertVerify bool
}

func (Trojan) Tag() string          { return "trojan" }
func (p Trojan) Credential() string { return p.Password }

type HTTPProxy struct {
	Username string
	Password string
	TLS      bool
}

func (HTTPProxy) Tag() string          { return "http" }
func (p HTTPProxy) Credential() string { return p.Password }

// Node is the canonical representation of one proxy endpoint. Nodes are
// immutable once parsed; renaming (geo tagging) builds a new Node.
type Node struct {
	// Name comes from the link fragment / dialect name field. It may be empty
	// and is not part of node identity.
	Name string

	Server string
	Port   int

	Proto Protocol
}

// Identity is the dedup key: two nodes with equal identity are the same
// endpoint regardless of display name or secondary options.
type Identity struct {
	Tag        string
	Server     string
	Port       int
	Credential string
}

func (n Node) Identity() Identity {
	return Identity{
		Tag:        n.Proto.Tag(),
		Server:     n.Server,
		Port:       n.Port,
		Credential: n.Proto.Credential(),
	}
}

func (id Identity) String() string {
	return id.Tag + "://" + id.Server + ":" + strconv.Itoa(id.Port) + "/" + id.Credential
}

// DisplayName falls back to server:port for unnamed nodes so every dialect
// has a non-empty, reasonably unique label to emit.
func (n Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Server + ":" + strconv.Itoa(n.Port)
}

// Renamed returns a copy of the node with a new display name.
func (n Node) Renamed(name string) Node {
	n.Name = name
	return n
}
