package logger

import (
	"crypto/sha256"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Caller().Logger()
	}

	return logger
}

// Fingerprint identifies a credential in logs without revealing it.
// It returns the first 12 characters of the base58-encoded SHA256 of the token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	fp := base58.Encode(hash[:])
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}

var _ http.RoundTripper = (*RequestLogger)(nil)

// RequestLogger is an http.RoundTripper that tags each outbound request with
// a request ID and logs its outcome.
type RequestLogger struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

func NewRequestLogger(logger zerolog.Logger, next http.RoundTripper) *RequestLogger {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RequestLogger{logger: logger, next: next}
}

func (l *RequestLogger) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.Must(uuid.NewV7()).String()
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, requestID)
	}

	logger := l.logger.With().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Logger()

	resp, err := l.next.RoundTrip(req.WithContext(logger.WithContext(req.Context())))
	if err != nil {
		logger.Error().
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("http request")

		return resp, err
	}

	event := logger.Debug()
	if resp.StatusCode >= http.StatusBadRequest {
		event = logger.Warn()
	}
	event.
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("http request")

	return resp, nil
}
