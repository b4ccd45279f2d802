package httpapi

import (
	"time"

	"github.com/John-Robertt/submerge-go/internal/corecache"
	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/geo"
	"github.com/John-Robertt/submerge-go/internal/store"
)

// Options controls HTTP API runtime behavior and wires in the optional
// subsystems (core cache, hosted documents, geo tagging).
type Options struct {
	// ProcessTimeout is the hard upper bound for a single aggregation request
	// (fetch + parse + merge + render + core validation).
	ProcessTimeout time.Duration

	// Fetch configures subscription downloads (per-URL timeout, size cap).
	Fetch fetch.Options

	// ScratchRoot is where per-request core job directories live.
	ScratchRoot string

	// Cores serves mihomo/sing-box binaries for output validation and geo
	// probing. Nil disables both.
	Cores *corecache.Cache

	// Geo tags node names with a country prefix when the request asks for it.
	// Nil means geo_tag requests are answered without tagging.
	Geo *geo.Checker

	// Store persists generated documents so they can be served back under
	// /sub/{id}. Nil disables hosting; responses then omit the URL field.
	Store *store.Store

	// PublicBaseURL is the externally visible base for hosted document links,
	// e.g. "https://sub.example.com". Empty means links are request-relative.
	PublicBaseURL string
}

func (o Options) withDefaults() Options {
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = 120 * time.Second
	}
	if o.ScratchRoot == "" {
		o.ScratchRoot = "scratch"
	}
	return o
}
