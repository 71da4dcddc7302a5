package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed idempotency records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware enforces idempotency semantics for mutating requests: the first
// request with a given key executes and has its response stored; retries with
// the same key and body replay the stored response; concurrent duplicates are
// rejected with 409.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:  {},
			http.MethodPut:   {},
			http.MethodPatch: {},
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := cfg.methods[strings.ToUpper(r.Method)]; !guarded {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				http.Error(w, "unable to read request body", http.StatusBadRequest)
				return
			}
			fingerprint := requestFingerprint(r, body)

			ctx := r.Context()
			now := cfg.clock()
			reservation, err := store.Reserve(ctx, key, fingerprint, now, cfg.ttl)
			if err != nil {
				if err == ErrFingerprintMismatch {
					http.Error(w, "idempotency key reused with a different request", http.StatusUnprocessableEntity)
					return
				}
				logf(cfg.logger, "idempotency: reserve failed: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				http.Error(w, "request with this idempotency key is already in progress", http.StatusConflict)
				return
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			resp := Response{
				Status:  capture.status,
				Headers: w.Header().Clone(),
				Body:    capture.buf.Bytes(),
			}
			if capture.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key, fingerprint); err != nil {
					logf(cfg.logger, "idempotency: release failed: %v", err)
				}
				return
			}
			if err := store.SaveResponse(ctx, key, fingerprint, resp, cfg.clock(), cfg.ttl); err != nil {
				logf(cfg.logger, "idempotency: save response failed: %v", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func requestFingerprint(r *http.Request, body []byte) string {
	var b bytes.Buffer
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('\n')
	b.WriteString(r.URL.Path)
	b.WriteByte('\n')
	b.Write(body)
	return sha256Hex(b.Bytes())
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func logf(logger Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}

type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}
