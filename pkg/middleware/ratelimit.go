package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/agora/pkg/ratelimit"
)

// proxy headers consulted after X-Forwarded-For, in order
var clientIPHeaders = []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"}

// ClientIP returns the client address of r: the first X-Forwarded-For entry,
// then proxy-specific headers, then the socket peer.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	for _, h := range clientIPHeaders {
		if ip := strings.TrimSpace(r.Header.Get(h)); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision, now time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.ResetIn > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(d.ResetIn).Unix(), 10))
	}
}

func retryAfterSeconds(resetIn time.Duration) int {
	secs := int(math.Ceil(resetIn.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
