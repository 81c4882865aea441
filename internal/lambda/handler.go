package lambda

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Handler serves API Gateway proxy events through an http.Handler, so the Lambda
// deployment answers exactly like the HTTP server.
type Handler struct {
	router http.Handler
}

// NewHandler creates a new Handler in front of router
func NewHandler(router http.Handler) *Handler {
	return &Handler{
		router: router,
	}
}

// Handle processes API Gateway events
func (h *Handler) Handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req, err := newRequest(ctx, request)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       fmt.Sprintf(`{"error": %q}`, err.Error()),
		}, nil
	}

	w := newResponseWriter()
	h.router.ServeHTTP(w, req)
	return w.response(), nil
}

func newRequest(ctx context.Context, request events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(request.Body)
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 body: %w", err)
		}
		body = decoded
	}

	query := url.Values{}
	for key, values := range request.MultiValueQueryStringParameters {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	for key, v := range request.QueryStringParameters {
		if _, ok := query[key]; !ok {
			query.Set(key, v)
		}
	}

	target := url.URL{Path: request.Path, RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, request.HTTPMethod, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for key, values := range request.MultiValueHeaders {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for key, v := range request.Headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, v)
		}
	}
	req.RemoteAddr = request.RequestContext.Identity.SourceIP
	return req, nil
}

// responseWriter buffers a response for API Gateway
type responseWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseWriter() *responseWriter {
	return &responseWriter{header: make(http.Header)}
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) response() events.APIGatewayProxyResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(map[string]string, len(w.header))
	for key, values := range w.header {
		headers[key] = strings.Join(values, ",")
	}
	return events.APIGatewayProxyResponse{
		StatusCode:        status,
		Headers:           headers,
		MultiValueHeaders: w.header,
		Body:              w.body.String(),
	}
}
