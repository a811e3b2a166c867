package router

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/rs/zerolog/log"

	"crm/pkg/errutil"
	"crm/pkg/httputil"
)

const (
	appBasePath   = "/api/v1"
	trackBasePath = "/track"
)

// to decode url params
var decoder = schema.NewDecoder()

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrCannotDecodeUrlParams  = errors.New("cannot decode url params")
)

type Middleware interface {
	Handle(http.Handler) http.Handler
}

type Handler struct {
	Req        interface{}
	Res        interface{}
	HandleFunc func(ctx context.Context, req interface{}, res interface{}) error

	reqT  reflect.Type
	respT reflect.Type
}

type HttpRoute struct {
	Method      string
	Path        string
	Handler     Handler
	Middlewares []Middleware
	IsTracking  bool
}

type HttpRouter struct {
	*mux.Router
}

func (r *HttpRouter) RegisterHttpRoute(hr *HttpRoute) {
	// save req and res type
	hr.Handler.reqT = reflect.TypeOf(hr.Handler.Req).Elem()
	hr.Handler.respT = reflect.TypeOf(hr.Handler.Res).Elem()

	// calling chain
	chain := http.Handler(hr.Handler)

	if hr.Middlewares != nil {
		// wrap middlewares from right to left
		for i := len(hr.Middlewares) - 1; i >= 0; i-- {
			chain = hr.Middlewares[i].Handle(chain)
		}
	}

	basePath := appBasePath
	if hr.IsTracking {
		basePath = trackBasePath
	}

	r.Methods(hr.Method).Path(fmt.Sprintf("%s%s", basePath, hr.Path)).Handler(chain)
}

// RegisterRawRoute mounts a plain http.HandlerFunc, bypassing the JSON
// request/response envelope. Tracking endpoints use this: they answer with
// an image or a redirect, never with the API envelope.
func (r *HttpRouter) RegisterRawRoute(method, path string, h http.HandlerFunc) {
	r.Methods(method).Path(fmt.Sprintf("%s%s", trackBasePath, path)).HandlerFunc(h)
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := reflect.New(h.reqT).Interface()
	res := reflect.New(h.respT).Interface()

	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(req, r.URL.Query()); err != nil {
		log.Ctx(ctx).Error().Msgf("decode url query params error: %v", err)
		httputil.ReturnServerResponse(w, nil, errutil.BadRequestError(ErrCannotDecodeUrlParams))
		return
	}

	if r.Body != http.NoBody {
		if hasContentType(r, "application/json") {
			if err := httputil.ReadJsonBody(r, req); err != nil {
				log.Ctx(ctx).Error().Msgf("read json body error: %v", err)
				httputil.ReturnServerResponse(w, nil, errutil.BadRequestError(err))
				return
			}
		} else {
			httputil.ReturnServerResponse(w, nil, errutil.BadRequestError(ErrUnsupportedContentType))
			return
		}
	}

	// pass the authenticated user and tenant into the request struct
	if ci, ok := req.(ContextInfoSetter); ok {
		if user, found := GetUserFromContext(ctx); found {
			ci.SetUser(user)
		}
		if tenant, found := GetTenantFromContext(ctx); found {
			ci.SetTenant(tenant)
		}
	}

	err := h.HandleFunc(ctx, req, res)
	httputil.ReturnServerResponse(w, res, err)
}

func hasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}
	return false
}
