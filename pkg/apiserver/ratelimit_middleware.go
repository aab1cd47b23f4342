package apiserver

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/myeasypage/easypage/pkg/model"
	"github.com/myeasypage/easypage/pkg/ratelimit"
	"github.com/sirupsen/logrus"
)

var errRateLimited = model.NewError(model.KindRateLimit, "too many requests, try again later")

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter(now).Seconds()))))
	}
}

// limit counts the request against purpose for identifier and writes a 429
// when the budget is spent. It reports whether the handler may continue.
func (a *apiServer) limit(w http.ResponseWriter, r *http.Request, purpose ratelimit.Purpose, identifier string) bool {
	if a.limiter == nil {
		return true
	}
	res, err := a.limiter.Check(r.Context(), purpose, identifier)
	if err != nil {
		logrus.Errorf("rate limit check for %s failed: %v", purpose, err)
		return true
	}
	setRateLimitHeaders(w, res, time.Now())
	if !res.Allowed {
		writeError(w, errRateLimited)
		return false
	}
	return true
}

// globalRateLimitMiddleware applies the per-IP budget to every API request.
func (a *apiServer) globalRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limit(w, r, ratelimit.Global, realIP(r)) {
			return
		}
		next.ServeHTTP(w, r)
	})
}
