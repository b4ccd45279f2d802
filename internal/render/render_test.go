package render

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/sub"
)

func ssNode(name, server string, port int, password string) model.Node {
	return model.Node{
		Name:   name,
		Server: server,
		Port:   port,
		Proto:  model.SS{Cipher: "aes-128-gcm", Password: password},
	}
}

func TestParseTarget(t *testing.T) {
	for _, s := range []string{"clash", "singbox", "plain"} {
		if _, err := ParseTarget(s); err != nil {
			t.Fatalf("ParseTarget(%q) unexpected err: %v", s, err)
		}
	}

	_, err := ParseTarget("surge")
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T: %v", err, err)
	}
	if re.AppError.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code=%q, want=%q", re.AppError.Code, "INVALID_ARGUMENT")
	}
}

func TestRender_NoNodes(t *testing.T) {
	_, err := Render(TargetClash, nil)
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T: %v", err, err)
	}
	if re.AppError.Code != "SUB_PARSE_ERROR" {
		t.Fatalf("code=%q, want=%q", re.AppError.Code, "SUB_PARSE_ERROR")
	}
}

func TestRenderPlain_DecodesBackToLinks(t *testing.T) {
	nodes := []model.Node{
		ssNode("节点 A", "h1.example.com", 8388, "pw1"),
		{Name: "tro", Server: "h2.example.com", Port: 443, Proto: model.Trojan{Password: "pw", SNI: "h2.example.com"}},
	}

	out, err := Render(TargetPlain, nodes)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		t.Fatalf("output is not std base64: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(decoded), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want=2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ss://") || !strings.HasPrefix(lines[1], "trojan://") {
		t.Fatalf("lines=%q", lines)
	}
	if !strings.HasSuffix(lines[0], "#%E8%8A%82%E7%82%B9%20A") {
		t.Fatalf("line=%q, want percent-encoded name fragment", lines[0])
	}
}

func TestRenderPlain_RoundTripsThroughParser(t *testing.T) {
	nodes := []model.Node{
		ssNode("a", "h1.example.com", 8388, "pw1"),
		{Name: "vm", Server: "h2.example.com", Port: 443, Proto: model.Vmess{
			UUID: "6c3d2c04-89a2-4e53-b7ef-2d77d54b753f", Cipher: "auto", Network: "ws",
			WSPath: "/ws", WSHost: "cdn.example.com", TLS: true, SNI: "cdn.example.com",
		}},
	}

	out, err := Render(TargetPlain, nodes)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	rep, err := sub.ParseSource("https://self/sub", out)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if len(rep.Nodes) != len(nodes) {
		t.Fatalf("len=%d, want=%d", len(rep.Nodes), len(nodes))
	}
	for i := range nodes {
		if rep.Nodes[i].Identity() != nodes[i].Identity() {
			t.Fatalf("identity[%d]=%v, want=%v", i, rep.Nodes[i].Identity(), nodes[i].Identity())
		}
	}
}

func TestRenderClash_RoundTripsThroughParser(t *testing.T) {
	nodes := []model.Node{
		{Name: "ss+obfs", Server: "h1.example.com", Port: 8388, Proto: model.SS{
			Cipher: "aes-128-gcm", Password: "pw",
			PluginName: "simple-obfs",
			PluginOpts: []model.KV{{Key: "mode", Value: "tls"}, {Key: "host", Value: "example.com"}},
		}},
		{Name: "tro", Server: "h2.example.com", Port: 443, Proto: model.Trojan{Password: "pw2", SNI: "h2.example.com", SkipCertVerify: true}},
		{Name: "vl", Server: "h3.example.com", Port: 443, Proto: model.Vless{
			UUID: "6c3d2c04-89a2-4e53-b7ef-2d77d54b753f", Network: "ws", WSPath: "/x", WSHost: "c.example.com", TLS: true, SNI: "c.example.com",
		}},
	}

	out, err := Render(TargetClash, nodes)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	rep, err := sub.ParseSource("https://self/clash", out)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if rep.Dialect != sub.DialectClash {
		t.Fatalf("dialect=%q, want clash", rep.Dialect)
	}
	if len(rep.Nodes) != len(nodes) {
		t.Fatalf("len=%d, want=%d", len(rep.Nodes), len(nodes))
	}
	for i := range nodes {
		if rep.Nodes[i].Identity() != nodes[i].Identity() {
			t.Fatalf("identity[%d]=%v, want=%v", i, rep.Nodes[i].Identity(), nodes[i].Identity())
		}
	}
}

func TestRenderClash_GroupsAndRules(t *testing.T) {
	out, err := Render(TargetClash, []model.Node{ssNode("a", "h.example.com", 1, "p")})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, want := range []string{"自动选择", "手动选择", "url-test", "MATCH,手动选择", "proxies:", "proxy-groups:", "rules:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSingbox_RoundTripsThroughParser(t *testing.T) {
	nodes := []model.Node{
		ssNode("a", "h1.example.com", 8388, "pw1"),
		{Name: "vm", Server: "h2.example.com", Port: 443, Proto: model.Vmess{
			UUID: "6c3d2c04-89a2-4e53-b7ef-2d77d54b753f", Cipher: "auto", Network: "tcp", TLS: true, SNI: "h2.example.com",
		}},
	}

	out, err := Render(TargetSingbox, nodes)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	rep, err := sub.ParseSource("https://self/sb", out)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if rep.Dialect != sub.DialectSingbox {
		t.Fatalf("dialect=%q, want singbox", rep.Dialect)
	}
	// The DIRECT routing outbound must not come back as a node.
	if len(rep.Nodes) != len(nodes) {
		t.Fatalf("len=%d, want=%d", len(rep.Nodes), len(nodes))
	}
	for i := range nodes {
		if rep.Nodes[i].Identity() != nodes[i].Identity() {
			t.Fatalf("identity[%d]=%v, want=%v", i, rep.Nodes[i].Identity(), nodes[i].Identity())
		}
	}
}

func TestRenderSingbox_ValidJSONWithScaffolding(t *testing.T) {
	out, err := Render(TargetSingbox, []model.Node{ssNode("a", "h.example.com", 1, "p")})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	for _, key := range []string{"log", "dns", "inbounds", "outbounds", "route"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("output missing %q section", key)
		}
	}
}

func TestUniqueNames(t *testing.T) {
	nodes := []model.Node{
		ssNode("node", "h1.example.com", 1, "p1"),
		ssNode("node", "h2.example.com", 2, "p2"),
		ssNode("node", "h3.example.com", 3, "p3"),
		ssNode("", "h4.example.com", 4, "p4"),
	}
	got := uniqueNames(nodes)
	want := []string{"node", "node-2", "node-3", "h4.example.com:4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names[%d]=%q, want=%q", i, got[i], want[i])
		}
	}
}

// The aggregation scenario: two sources share one endpoint, the second source
// adds another. The merged plain output carries exactly the two unique nodes.
func TestScenario_TwoSourcesOneDuplicate(t *testing.T) {
	shared := ssNode("共享节点", "h1.example.com", 8388, "pw")
	extra := model.Node{Name: "vm", Server: "h2.example.com", Port: 443, Proto: model.Vmess{
		UUID: "6c3d2c04-89a2-4e53-b7ef-2d77d54b753f", Cipher: "auto", Network: "tcp",
	}}

	out, err := Render(TargetPlain, []model.Node{shared, extra})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	decoded, _ := base64.StdEncoding.DecodeString(out)
	lines := strings.Split(strings.TrimRight(string(decoded), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want=2", len(lines))
	}
}

func TestCheckArgs(t *testing.T) {
	if got := CheckArgs(TargetClash, "/tmp/job", "/tmp/job/config.yaml"); len(got) != 5 || got[0] != "-t" {
		t.Fatalf("clash args=%v", got)
	}
	if got := CheckArgs(TargetSingbox, "/tmp/job", "/tmp/job/config.json"); len(got) != 3 || got[0] != "check" {
		t.Fatalf("singbox args=%v", got)
	}
	if got := CheckArgs(TargetPlain, "", ""); got != nil {
		t.Fatalf("plain args=%v, want nil", got)
	}
}

func TestCoreName(t *testing.T) {
	if CoreName(TargetClash) != "mihomo" || CoreName(TargetSingbox) != "sing-box" || CoreName(TargetPlain) != "" {
		t.Fatalf("core names wrong: %q %q %q", CoreName(TargetClash), CoreName(TargetSingbox), CoreName(TargetPlain))
	}
}

func TestRenderSingbox_SSPluginRoundTrip(t *testing.T) {
	n := model.Node{Name: "混淆", Server: "h.example.com", Port: 8388, Proto: model.SS{
		Cipher:     "aes-128-gcm",
		Password:   "pw",
		PluginName: "obfs-local",
		PluginOpts: []model.KV{{Key: "obfs", Value: "http"}, {Key: "obfs-host", Value: "www.example.com"}},
	}}

	out, err := Render(TargetSingbox, []model.Node{n})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(out, `"plugin": "obfs-local"`) {
		t.Fatalf("plugin missing from output:\n%s", out)
	}
	if !strings.Contains(out, `"plugin_opts": "obfs=http;obfs-host=www.example.com"`) {
		t.Fatalf("plugin_opts missing from output:\n%s", out)
	}

	rep, err := sub.ParseSource("https://self/sb", out)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	ss, ok := rep.Nodes[0].Proto.(model.SS)
	if !ok || ss.PluginName != "obfs-local" || len(ss.PluginOpts) != 2 {
		t.Fatalf("plugin lost in round-trip: %+v", rep.Nodes[0].Proto)
	}
}
