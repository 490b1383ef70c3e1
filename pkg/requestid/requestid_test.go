package requestid_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/requestid"
)

func serve(t *testing.T, inbound string) (ctxID, headerID string) {
	t.Helper()
	h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(requestid.Header, inbound)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	return ctxID, rec.Header().Get(requestid.Header)
}

func TestMiddlewareReusesValidIDs(t *testing.T) {
	t.Parallel()

	for _, id := range []string{
		"abc123",
		"ABC-123_xyz",
		"550e8400-e29b-41d4-a716-446655440000",
	} {
		ctxID, headerID := serve(t, id)
		assert.Equal(t, id, ctxID)
		assert.Equal(t, id, headerID)
	}
}

func TestMiddlewareReplacesInvalidIDs(t *testing.T) {
	t.Parallel()

	for _, id := range []string{
		"",
		"user@example.com",
		"has space",
		"a/b",
		"<script>alert(1)</script>",
		strings.Repeat("a", 129),
	} {
		ctxID, headerID := serve(t, id)
		assert.NotEmpty(t, ctxID, "inbound %q", id)
		assert.NotEqual(t, id, ctxID)
		assert.Equal(t, ctxID, headerID)
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	assert.Empty(t, requestid.FromContext(context.Background()))
	assert.Equal(t, "req-1", requestid.FromContext(requestid.WithContext(context.Background(), "req-1")))
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithContextExtractors(requestid.LoggerExtractor),
	)

	log.InfoContext(requestid.WithContext(context.Background(), "req-42"), "tagged")
	log.InfoContext(context.Background(), "untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"request_id":"req-42"`)
	assert.NotContains(t, lines[1], "request_id")
}
