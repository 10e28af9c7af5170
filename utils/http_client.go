package utils

import (
	"net"
	"net/http"
	"time"
)

var (
	// GlobalHTTPClient is shared by attachment downloads and log webhooks.
	GlobalHTTPClient *http.Client
)

func init() {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// a resync pulls many attachments from the same CDN host
		MaxIdleConnsPerHost: 32,
	}

	GlobalHTTPClient = &http.Client{
		Transport: transport,
		Timeout:   2 * time.Minute,
	}
}
