package main

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// deriveHealthzURL turns a listen address (":8000", "0.0.0.0:8000", …) into a
// loopback health endpoint URL for the -healthcheck mode.
func deriveHealthzURL(listen string) (string, error) {
	listen = strings.TrimPrefix(strings.TrimPrefix(listen, "http://"), "https://")
	listen = strings.TrimSuffix(listen, "/healthz")

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		// A bare port like "8000" is accepted too.
		if p, perr := url.Parse("//:" + listen); perr == nil && p.Port() != "" {
			host, port = "", p.Port()
		} else {
			return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
		}
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(healthzURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(healthzURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, healthzURL)
	}
	return nil
}
