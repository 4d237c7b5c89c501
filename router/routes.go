// Package router holds the dashboard's page routes and the guard that
// decides, per navigation, whether the browser may proceed.
package router

import "strings"

// Route is a dashboard page. Pattern segments starting with ":" match any
// single path segment.
type Route struct {
	Name    string
	Pattern string
	// NoAuth routes are reachable without being logged in.
	NoAuth bool
}

var pageRoutes = []Route{
	{Name: "Analytics", Pattern: "/"},
	{Name: "Repositories", Pattern: "/repositories"},
	{Name: "ScanFindings", Pattern: "/findings/:scanId"},
	{Name: "RuleAnalysis", Pattern: "/rule-analysis"},
	{Name: "RuleMetrics", Pattern: "/metrics/rule-metrics"},
	{Name: "FindingMetrics", Pattern: "/metrics/finding-metrics"},
	{Name: "AuditMetrics", Pattern: "/metrics/audit-metrics"},
	{Name: "RulePacks", Pattern: "/rulepacks"},
}

var loginRoutes = []Route{
	{Name: "Login", Pattern: "/login", NoAuth: true},
	{Name: "LoginCallback", Pattern: "/callback", NoAuth: true},
}

// FallbackRoute is where unmatched paths are sent.
const FallbackRoute = "/"

// Routes returns the page routes. The login routes only exist when
// authentication is required.
func Routes(authRequired bool) []Route {
	routes := append([]Route(nil), pageRoutes...)
	if authRequired {
		routes = append(routes, loginRoutes...)
	}
	return routes
}

// Match is a matched route and its path parameters.
type Match struct {
	Route  Route
	Params map[string]string
}

// MatchRoute finds the route matching path, ignoring any query string and a
// trailing slash.
func MatchRoute(routes []Route, path string) (Match, bool) {
	path, _, _ = strings.Cut(path, "?")
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	for _, route := range routes {
		if params, ok := matchPattern(route.Pattern, path); ok {
			return Match{Route: route, Params: params}, true
		}
	}
	return Match{}, false
}

func matchPattern(pattern, path string) (map[string]string, bool) {
	if pattern == path {
		return nil, true
	}
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(xs) {
		return nil, false
	}
	var params map[string]string
	for i, p := range ps {
		if name, ok := strings.CutPrefix(p, ":"); ok {
			if xs[i] == "" {
				return nil, false
			}
			if params == nil {
				params = map[string]string{}
			}
			params[name] = xs[i]
			continue
		}
		if p != xs[i] {
			return nil, false
		}
	}
	return params, true
}
