// Package language picks the request language from the configured set.
package language

import (
	"errors"
	"net/http"
	"strings"
)

const HeaderOverride = "Muistot-Language"

var ErrUnsupported = errors.New("unsupported language")

type Negotiator struct {
	def       string
	supported map[string]struct{}
}

func New(def string, supported []string) *Negotiator {
	set := make(map[string]struct{}, len(supported)+1)
	for _, lang := range supported {
		set[strings.ToLower(strings.TrimSpace(lang))] = struct{}{}
	}
	set[def] = struct{}{}
	return &Negotiator{def: def, supported: set}
}

func (n *Negotiator) Default() string { return n.def }

// Header is the header consulted for r. The override header wins; otherwise
// reads use Accept-Language and writes Content-Language.
func Header(r *http.Request) string {
	if v := r.Header.Get(HeaderOverride); v != "" {
		return v
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return r.Header.Get("Accept-Language")
	}
	return r.Header.Get("Content-Language")
}

// Resolve returns the first supported tag of a comma separated header value.
// An empty value resolves to the default. When nothing matches, strict
// callers get ErrUnsupported and the rest get the default.
func (n *Negotiator) Resolve(value string, strict bool) (string, error) {
	if strings.TrimSpace(value) == "" {
		return n.def, nil
	}
	for _, part := range strings.Split(value, ",") {
		tag, _, _ := strings.Cut(part, ";")
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || tag == "*" {
			continue
		}
		if _, ok := n.supported[tag]; ok {
			return tag, nil
		}
		if primary, _, found := strings.Cut(tag, "-"); found {
			if _, ok := n.supported[primary]; ok {
				return primary, nil
			}
		}
	}
	if strict {
		return "", ErrUnsupported
	}
	return n.def, nil
}
