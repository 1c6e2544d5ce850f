package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

type route struct {
	pattern *regexp.Regexp
	methods []string
	handler http.Handler
}

// A RegexpHandler routes requests by matching the URL path against a list
// of regular expressions, in registration order. Named capture groups in
// the pattern carry path parameters to the handler.
type RegexpHandler struct {
	routes []*route
}

// Handler registers a handler for paths matching pattern and the given
// methods.
func (h *RegexpHandler) Handler(pattern *regexp.Regexp, methods []string, handler http.Handler) {
	h.routes = append(h.routes, &route{
		pattern: pattern,
		methods: methods,
		handler: handler,
	})
}

func (h *RegexpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range h.routes {
		if route.pattern.MatchString(r.URL.Path) {
			upperMethod := strings.ToUpper(r.Method)
			for _, method := range route.methods {
				if strings.ToUpper(method) == upperMethod {
					route.handler.ServeHTTP(w, r)
					return
				}
			}
			if upperMethod == "OPTIONS" {
				methods := strings.Join(append(route.methods, "OPTIONS"), ", ")
				w.Header().Set("Allow", methods)
			} else {
				w.WriteHeader(http.StatusMethodNotAllowed)
				json.NewEncoder(w).Encode(new405(r))
			}
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(new404(r))
}
