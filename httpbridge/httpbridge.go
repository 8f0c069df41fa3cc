// Package httpbridge runs every HTTP request as a coroutine, so the stateful
// services a handler uses are released when the request ends.
package httpbridge

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/centraunit/digo/coroutine"
)

// CoroutineIDKey is the fasthttp user value and gin key holding the
// coroutine id of a request.
const CoroutineIDKey = "digo.coroutine_id"

// Runner runs a function as a coroutine. *digo.Kernel is a Runner.
type Runner interface {
	Run(ctx context.Context, fn coroutine.Func) error
}

// Middleware wraps next so every request runs as a coroutine.
func Middleware(r Runner, logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			err := r.Run(req.Context(), func(ctx context.Context) error {
				next.ServeHTTP(w, req.WithContext(ctx))
				return nil
			})
			if err != nil {
				logger.Error("request coroutine failed", zap.String("path", req.URL.Path), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		})
	}
}

// Gin returns a gin middleware running the rest of the chain as a coroutine.
func Gin(r Runner, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		err := r.Run(c.Request.Context(), func(ctx context.Context) error {
			c.Request = c.Request.WithContext(ctx)
			c.Set(CoroutineIDKey, coroutine.FromContext(ctx))
			c.Next()
			return nil
		})
		if err != nil {
			logger.Error("request coroutine failed", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatus(http.StatusInternalServerError)
		}
	}
}

// FastHTTP wraps next so every request runs as a coroutine. The coroutine id
// is stored as the CoroutineIDKey user value.
func FastHTTP(r Runner, logger *zap.Logger, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(rctx *fasthttp.RequestCtx) {
		err := r.Run(rctx, func(ctx context.Context) error {
			rctx.SetUserValue(CoroutineIDKey, coroutine.FromContext(ctx))
			next(rctx)
			return nil
		})
		if err != nil {
			logger.Error("request coroutine failed", zap.ByteString("path", rctx.Path()), zap.Error(err))
			rctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		}
	}
}
