package gateway

import (
	"net/http"
	"strconv"

	apperrors "github.com/jrsteele09/go-cluster-gateway/internal/errors"
	"github.com/jrsteele09/go-cluster-gateway/transcode"
	"github.com/rs/zerolog"
)

// Response is a fully buffered client-facing response. Nothing reaches the
// client until Write is called, so an abandoned request commits no cookies.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// errorBody is written for failures produced by the gateway itself.
type errorBody struct {
	Error   apperrors.Kind `json:"error"`
	Message string         `json:"message"`
}

func errorResponse(err error) *Response {
	ge := apperrors.AsGatewayError(err)
	body, mErr := transcode.Marshal(errorBody{Error: ge.Kind, Message: ge.Message})
	if mErr != nil {
		body = []byte(`{"error":"internal","message":"internal error"}`)
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{Status: ge.Status, Header: h, Body: body}
}

// addSetCookies appends Set-Cookie values from h, keeping their order.
func (resp *Response) addSetCookies(h http.Header) {
	for _, sc := range h.Values("Set-Cookie") {
		resp.Header.Add("Set-Cookie", sc)
	}
}

// Write sends resp to the client unless r has already been cancelled.
func (resp *Response) Write(w http.ResponseWriter, r *http.Request) {
	if err := r.Context().Err(); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("client gone, response discarded")
		return
	}

	dst := w.Header()
	for k, vs := range resp.Header {
		dst[k] = append([]string(nil), vs...)
	}
	// A relayed HEAD reply keeps the upstream Content-Length; its buffered
	// body is always empty.
	if bodyAllowed(resp.Status) && (r.Method != http.MethodHead || len(resp.Body) > 0) {
		dst.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead || len(resp.Body) == 0 || !bodyAllowed(resp.Status) {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to write response body")
	}
}

// WriteError writes a gateway error as {"error": kind, "message": ...}.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(err).Write(w, r)
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}
