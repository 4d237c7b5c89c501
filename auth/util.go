package auth

import "strings"

// Routes served by the login flow.
const (
	LoginRoute    = "/login"
	LoginSSORoute = "/login/sso"
	CallbackRoute = "/callback"
	LogoutRoute   = "/logout"
	HomeRoute     = "/"
)

// LocalRoute returns route if it is a local absolute path, else "/". It keeps
// post-login redirects on this origin.
func LocalRoute(route string) string {
	if route == "" || !strings.HasPrefix(route, "/") || strings.HasPrefix(route, "//") || strings.HasPrefix(route, "/\\") {
		return HomeRoute
	}
	return route
}
