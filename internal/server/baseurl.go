package server

import "net/http"

// baseURL reconstructs the externally visible origin of a request. Behind a
// proxy the forwarded headers win; otherwise the Host header decides and the
// scheme follows the connection.
func baseURL(r *http.Request) string {
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		scheme := r.Header.Get("X-Forwarded-Proto")
		if scheme == "" {
			scheme = "https"
		}
		return scheme + "://" + host
	}
	if r.Host != "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		return scheme + "://" + r.Host
	}
	return ""
}
