// Package httpclient carries every request the gateway sends to the RESC
// web service on behalf of a browser session.
//
// Transport is an http.RoundTripper that:
//   - refuses to send a request whose session holds an expired access token,
//     telling the user and scheduling a logout instead;
//   - attaches the session's access token as a bearer token;
//   - turns notable responses (201, 403, other errors) into notifications,
//     scheduling a logout on 403.
//
// RetryTransport retries transport-level failures with exponential backoff.
// HTTP status codes are never retried.
//
// Client is a small JSON client over the web service's /v1 API built on
// those transports, used for server-side calls such as the authorization
// check.
package httpclient
