package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-mirror/telemetry"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	ctxUserID            = "userID"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies. Requests
// with invalid gzip payloads are rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isGzipEncoded(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			gr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = gzipBody{Reader: gr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func isGzipEncoding(enc string) bool { return strings.EqualFold(strings.TrimSpace(enc), "gzip") }

func isGzipEncoded(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if isGzipEncoding(enc) {
			return true
		}
	}
	return false
}

type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (g gzipBody) Close() error {
	return errors.Join(g.Reader.Close(), g.raw.Close())
}

// observe opens one telemetry operation per request, tagged with a request id.
func observe(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Request().Header.Get(echo.HeaderXRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, reqID)

			obs, ctx := telemetry.Start(c.Request().Context(), logger, "http", c.Request().Method+" "+c.Path())
			obs.Set("request_id", reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			obs.EndWithStatus(status, err)
			return err
		}
	}
}

// authenticate resolves the caller and stores it on the context. The SSE
// endpoint also accepts the token as a query parameter, since EventSource
// cannot set headers.
func authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if token := c.QueryParam("token"); header == "" && token != "" {
				header = "Bearer " + token
			}
			userID, err := auth.UserIDFromAuthHeader(header)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			c.Set(ctxUserID, userID)
			return next(c)
		}
	}
}

// idempotent rejects a repeated Idempotency-Key with 409 and releases the key
// again when the mutation did not succeed.
func idempotent(deduper Deduper, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
			if key == "" || deduper == nil {
				return next(c)
			}
			userID, _ := c.Get(ctxUserID).(string)
			ctx := c.Request().Context()
			added, err := deduper.Add(ctx, userID, key)
			if err != nil {
				logger.WithError(err).Error("idempotency store unavailable")
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
			}
			if !added {
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate idempotency key"})
			}
			err = next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					logger.WithError(rerr).Warn("failed to release idempotency key")
				}
			}
			return err
		}
	}
}
