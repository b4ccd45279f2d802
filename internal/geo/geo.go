// Package geo annotates node display names with exit-IP country codes by
// running each node through a converter core and querying an IP geolocation
// API over the resulting local proxy.
package geo

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"

	"github.com/John-Robertt/submerge-go/internal/corecache"
	"github.com/John-Robertt/submerge-go/internal/corerun"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/render"
)

// Failure markers used as name prefixes, matching what clients of this
// service already expect: [XX] unknown, [TO] timeout, [ER] request error,
// [FL] core failed to start, [SKP] skipped (no usable core).
const (
	markUnknown = "XX"
	markTimeout = "TO"
	markError   = "ER"
	markFailed  = "FL"
	markSkipped = "SKP"
)

// maxConcurrentProbes keeps the probe fan-out from exhausting the IP API
// rate limit and local ports.
const maxConcurrentProbes = 5

type Options struct {
	ScratchRoot  string
	IPAPIURL     string        // default http://ip-api.com/json
	ProbeTimeout time.Duration // per-node bound, default 20s
	StartupWait  time.Duration // max wait for the core to listen, default 5s
}

func (o Options) withDefaults() Options {
	if o.IPAPIURL == "" {
		o.IPAPIURL = "http://ip-api.com/json?fields=countryCode,country,query"
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 20 * time.Second
	}
	if o.StartupWait <= 0 {
		o.StartupWait = 5 * time.Second
	}
	return o
}

type Checker struct {
	cores *corecache.Cache
	opt   Options
	sem   *semaphore.Weighted
}

func New(cores *corecache.Cache, opt Options) *Checker {
	return &Checker{
		cores: cores,
		opt:   opt.withDefaults(),
		sem:   semaphore.NewWeighted(maxConcurrentProbes),
	}
}

// TagAll probes every node and returns the same nodes, in the same order,
// with "[CC] " prefixed display names. Probing never fails the request: a
// node that cannot be probed keeps its place with a failure marker.
func (c *Checker) TagAll(ctx context.Context, nodes []model.Node) []model.Node {
	out := make([]model.Node, len(nodes))

	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.sem.Acquire(ctx, 1); err != nil {
				out[i] = n.Renamed(tagName(markSkipped, n))
				return
			}
			defer c.sem.Release(1)
			out[i] = n.Renamed(tagName(c.probe(ctx, n), n))
		}()
	}
	wg.Wait()
	return out
}

func tagName(mark string, n model.Node) string {
	return "[" + mark + "] " + n.DisplayName()
}

// probePlan is one node's probe setup: which core to run, the config to
// feed it, and the local proxy port the config listens on.
type probePlan struct {
	binPath string
	cfg     []byte
	cfgName string
	args    func(dir, cfgPath string) []string
	port    int
}

// probe runs one node through a core and returns the country code or a
// failure marker.
func (c *Checker) probe(ctx context.Context, n model.Node) string {
	ctx, cancel := context.WithTimeout(ctx, c.opt.ProbeTimeout)
	defer cancel()

	plan, ok := c.pickCore(ctx, n)
	if !ok {
		return markSkipped
	}

	job, err := corerun.NewJob(c.opt.ScratchRoot)
	if err != nil {
		log.Printf("geo: scratch dir: %v", err)
		return markError
	}
	defer job.Close()

	cfgPath, err := job.WriteFile(plan.cfgName, plan.cfg)
	if err != nil {
		log.Printf("geo: write probe config: %v", err)
		return markError
	}

	proc, err := corerun.Start(ctx, plan.binPath, plan.args(job.Dir(), cfgPath))
	if err != nil {
		return markFailed
	}
	defer proc.Stop()

	if !waitListening(ctx, plan.port, c.opt.StartupWait) {
		if proc.Exited() {
			log.Printf("geo: core exited early for %s: %s", n.Identity(), proc.Stderr())
			return markFailed
		}
		return markTimeout
	}

	return c.queryCountry(ctx, plan.port)
}

// pickCore prefers mihomo and falls back to sing-box, mirroring the breadth
// of protocol support in each.
func (c *Checker) pickCore(ctx context.Context, n model.Node) (probePlan, bool) {
	port := pickFreePort()
	if port == 0 {
		return probePlan{}, false
	}

	if entry, err := c.cores.Get(ctx, "mihomo"); err == nil {
		if cfg, cerr := render.ClashProbeConfig(n, port); cerr == nil {
			return probePlan{
				binPath: entry.Path,
				cfg:     cfg,
				cfgName: "config.yaml",
				args: func(dir, cfgPath string) []string {
					return []string{"-d", dir, "-f", cfgPath}
				},
				port: port,
			}, true
		}
	}
	if entry, err := c.cores.Get(ctx, "sing-box"); err == nil {
		if cfg, cerr := render.SingboxProbeConfig(n, port); cerr == nil {
			return probePlan{
				binPath: entry.Path,
				cfg:     cfg,
				cfgName: "config.json",
				args: func(_, cfgPath string) []string {
					return []string{"run", "-c", cfgPath}
				},
				port: port,
			}, true
		}
	}
	return probePlan{}, false
}

// pickFreePort asks the kernel for an ephemeral port. Racy by nature, but a
// failed bind just fails that one probe.
func pickFreePort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func waitListening(ctx context.Context, port int, maxWait time.Duration) bool {
	if port == 0 {
		return false
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return true
		}
		time.Sleep(250 * time.Millisecond)
	}
	return false
}

func (c *Checker) queryCountry(ctx context.Context, port int) string {
	var body struct {
		CountryCode string `json:"countryCode"`
	}
	client := resty.New().
		SetProxy(fmt.Sprintf("http://127.0.0.1:%d", port)).
		SetTimeout(10 * time.Second)
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(c.opt.IPAPIURL)
	if err != nil {
		if ctx.Err() != nil {
			return markTimeout
		}
		return markError
	}
	if resp.IsError() || body.CountryCode == "" {
		return markUnknown
	}
	return body.CountryCode
}
