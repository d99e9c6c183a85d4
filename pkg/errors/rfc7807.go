// Package errors renders HTTP error responses as RFC 7807 problem documents.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"
)

// ContentType is the media type of a problem document.
const ContentType = "application/problem+json"

const (
	TypeRateLimit     = "https://flowlimit.dev/problems/rate-limited"
	TypeInternalError = "https://flowlimit.dev/problems/internal"

	TitleRateLimit     = "Too Many Requests"
	TitleInternalError = "Internal Server Error"
)

// extRetryAfter is the extension member mirrored into the Retry-After header.
const extRetryAfter = "retry_after"

// Problem is an RFC 7807 problem document. Extensions are written as
// top-level members alongside the standard ones.
type Problem struct {
	Type       string
	Title      string
	Status     int
	Detail     string
	Instance   string
	TraceID    string
	Extensions map[string]any
}

func newProblem(typ, title string, status int, detail, instance string) *Problem {
	return &Problem{Type: typ, Title: title, Status: status, Detail: detail, Instance: instance}
}

// NewRateLimitError builds a 429 problem.
func NewRateLimitError(detail, instance string) *Problem {
	return newProblem(TypeRateLimit, TitleRateLimit, http.StatusTooManyRequests, detail, instance)
}

// NewInternalError builds a 500 problem.
func NewInternalError(detail, instance string) *Problem {
	return newProblem(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return p.Title + ": " + p.Detail
}

// With sets an extension member. Standard member names are ignored on output.
func (p *Problem) With(key string, value any) *Problem {
	if p.Extensions == nil {
		p.Extensions = map[string]any{}
	}
	p.Extensions[key] = value
	return p
}

func (p *Problem) WithTraceID(id string) *Problem {
	p.TraceID = id
	return p
}

// RetryAfter records a retry hint rounded to whole seconds, at least one.
func (p *Problem) RetryAfter(d time.Duration) *Problem {
	return p.With(extRetryAfter, max(1, int(d.Round(time.Second)/time.Second)))
}

func (p *Problem) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(p.Extensions)+6)
	for k, v := range p.Extensions {
		doc[k] = v
	}
	doc["type"], doc["title"], doc["status"] = p.Type, p.Title, p.Status
	for k, v := range map[string]string{"detail": p.Detail, "instance": p.Instance, "trace_id": p.TraceID} {
		if v != "" {
			doc[k] = v
		} else {
			delete(doc, k)
		}
	}
	return json.Marshal(doc)
}

// AsProblem finds a Problem in err's chain.
func AsProblem(err error) (*Problem, bool) {
	var p *Problem
	ok := stderrors.As(err, &p)
	return p, ok
}

// WriteProblem writes p as the response, including Retry-After when set.
func WriteProblem(w http.ResponseWriter, p *Problem) error {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	if secs, ok := p.Extensions[extRetryAfter].(int); ok {
		h.Set("Retry-After", strconv.Itoa(secs))
	}
	w.WriteHeader(p.Status)
	return json.NewEncoder(w).Encode(p)
}
