// Package validate runs stateless shape checks on inbound requests before
// they reach any page logic. The checks are heuristics against scripted
// abuse; results are advisory and the caller decides how to reject.
package validate

import (
	"net/http"
	"strconv"
	"strings"
)

type Result struct {
	Valid  bool
	Errors []string
}

type Validator struct {
	MinUserAgentLen int
	MaxBodyBytes    int64
	DeniedAgents    []string // lowercase substrings of known scanner UAs
}

func New(minUALen int, maxBody int64, denied []string) *Validator {
	lowered := make([]string, len(denied))
	for i, d := range denied {
		lowered[i] = strings.ToLower(d)
	}
	return &Validator{
		MinUserAgentLen: minUALen,
		MaxBodyBytes:    maxBody,
		DeniedAgents:    lowered,
	}
}

// Validate runs every check and collects all failures; it never
// short-circuits and never reads the request body.
func (v *Validator) Validate(r *http.Request) Result {
	var errs []string

	ua := r.Header.Get("User-Agent")
	if len(ua) < v.MinUserAgentLen {
		errs = append(errs, "invalid user-agent")
	}
	if ua != "" {
		lowered := strings.ToLower(ua)
		for _, sig := range v.DeniedAgents {
			if strings.Contains(lowered, sig) {
				errs = append(errs, "suspicious user-agent")
				break
			}
		}
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if cl := r.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > v.MaxBodyBytes {
				errs = append(errs, "request payload too large")
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}
