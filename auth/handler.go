package auth

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/mnehpets/rescdash/config"
	"github.com/mnehpets/rescdash/endpoint"
	"github.com/mnehpets/rescdash/notify"
	"github.com/mnehpets/rescdash/session"
	"github.com/rs/zerolog"
)

const loginFailedMessage = "Login failed. Please try again."

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>RESC - Login</title>
</head>
<body>
<main class="login">
<h1>Repository Scanner (RESC)</h1>
{{with .Message}}<p class="login-message">{{.}}</p>{{end}}
<a class="login-button" href="{{.LoginURL}}">Login with SSO</a>
</main>
</body>
</html>
`))

// LoginPageValues are the values of the login page template.
type LoginPageValues struct {
	Message  string
	LoginURL string
}

// Handler serves the login flow's routes:
//
//	GET /login       login page
//	GET /login/sso   start a login attempt at the identity provider
//	GET /callback    complete a login attempt
//	GET /logout      log out
type Handler struct {
	mux      *http.ServeMux
	service  *Service
	cfg      *config.Config
	notifier notify.Notifier
	template *template.Template
	log      zerolog.Logger

	// processors are the middleware processors to run for each endpoint
	processors []endpoint.Processor
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithProcessors adds middleware processors to the auth endpoints.
func WithProcessors(p ...endpoint.Processor) HandlerOption {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// WithNotifier sets where login failures are reported to the user.
func WithNotifier(n notify.Notifier) HandlerOption {
	return func(h *Handler) {
		h.notifier = n
	}
}

// WithLoginTemplate replaces the login page template. It is executed with
// LoginPageValues.
func WithLoginTemplate(t *template.Template) HandlerOption {
	return func(h *Handler) {
		h.template = t
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(log zerolog.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = log
	}
}

func NewHandler(service *Service, cfg *config.Config, opts ...HandlerOption) *Handler {
	h := &Handler{
		mux:      http.NewServeMux(),
		service:  service,
		cfg:      cfg,
		template: loginPage,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("GET "+LoginRoute, endpoint.HandleFunc(h.login, h.processors...))
	h.mux.HandleFunc("GET "+LoginSSORoute, endpoint.HandleFunc(h.loginSSO, h.processors...))
	h.mux.HandleFunc("GET "+CallbackRoute, endpoint.HandleFunc(h.callback, h.processors...))
	h.mux.HandleFunc("GET "+LogoutRoute, endpoint.HandleFunc(h.logout, h.processors...))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	msg, err := h.cfg.Value(config.SSOLoginPageMessage)
	if err != nil {
		// The page still works without its message.
		h.log.Warn().Err(err).Msg("login page message not configured")
	}
	return &endpoint.HTMLTemplateRenderer{
		Template: h.template,
		Values:   LoginPageValues{Message: msg, LoginURL: LoginSSORoute},
	}, nil
}

func (h *Handler) loginSSO(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	authURL, err := h.service.RequestLoginPage(r.Context())
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to start login", err)
	}
	return &endpoint.RedirectRenderer{URL: authURL, Status: http.StatusFound}, nil
}

// CallbackParams are the identity provider's callback parameters.
type CallbackParams struct {
	Code      string `query:"code"`
	Error     string `query:"error"`
	ErrorDesc string `query:"error_description"`
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	result, err := h.service.DoLogin(r.Context(), r.URL.Query())
	switch {
	case errors.Is(err, ErrMissingCodeOrVerifier):
		h.log.Warn().Err(err).Str("provider_error", params.Error).Msg("callback without code or verifier")
		h.notifyFailure(r)
		return nil, endpoint.Error(http.StatusBadRequest, ErrMissingCodeOrVerifier.Error(), err)
	case err != nil:
		h.log.Error().Err(err).Msg("login failed")
		h.notifyFailure(r)
		return &endpoint.RedirectRenderer{URL: LoginRoute}, nil
	}
	return &endpoint.RedirectRenderer{URL: result.Redirect}, nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	route, err := h.service.DoLogOut(r.Context())
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to log out", err)
	}
	return &endpoint.RedirectRenderer{URL: route}, nil
}

func (h *Handler) notifyFailure(r *http.Request) {
	id, _ := session.IDFromContext(r.Context())
	notify.PushDanger(r.Context(), h.notifier, id, loginFailedMessage, "Login Failed", 5*time.Second)
}
