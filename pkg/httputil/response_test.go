package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssobroker/broker/pkg/observability"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, http.StatusOK, map[string]string{"hello": "world"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, rec.Body.String())
}

func TestWriteErrorBodies(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{
			name:       "bad request",
			write:      func(w http.ResponseWriter) { WriteBadRequest(w, "invalid redirect_uri") },
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid redirect_uri",
		},
		{
			name:       "unauthorized",
			write:      func(w http.ResponseWriter) { WriteUnauthorized(w, "Invalid client credentials") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid client credentials",
		},
		{
			name:       "not found",
			write:      func(w http.ResponseWriter) { WriteNotFound(w, "provider not found") },
			wantStatus: http.StatusNotFound,
			wantError:  "provider not found",
		},
		{
			name:       "not implemented",
			write:      func(w http.ResponseWriter) { WriteNotImplemented(w, "SLO not supported") },
			wantStatus: http.StatusNotImplemented,
			wantError:  "SLO not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.NotEmpty(t, body.Timestamp)
		})
	}
}

func TestWriteInternalError(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	rec := httptest.NewRecorder()
	ctx := observability.WithRequestID(context.Background(), "req-123")
	WriteInternalError(rec, ctx, logger, errors.New("pbkdf2 blew up"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body.Error)
	assert.Equal(t, "req-123", body.Details["request_id"])
	assert.NotContains(t, rec.Body.String(), "pbkdf2")
}

func TestWriteInternalErrorGeneratesRequestID(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	rec := httptest.NewRecorder()
	WriteInternalError(rec, context.Background(), logger, errors.New("boom"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Details["request_id"])
}
