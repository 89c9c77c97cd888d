package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/model"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"self follow", model.ErrCannotFollowSelf, http.StatusBadRequest, ErrCodeBadRequest},
		{"wrapped user missing", fmt.Errorf("follow: %w", model.ErrUserNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"content gone", model.ErrContentGone, http.StatusNotFound, ErrCodeGone},
		{"not owner", model.ErrNotContentOwner, http.StatusForbidden, ErrCodeForbidden},
		{"permission denied", fmt.Errorf("commit: %w", gateway.ErrPermissionDenied), http.StatusForbidden, ErrCodeForbidden},
		{"unavailable", gateway.ErrUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"media off", model.ErrMediaNotConfigured, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"too large", model.ErrFileTooLarge, http.StatusBadRequest, model.CodeFileTooLarge},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteServiceError(rec, zap.NewNop(), errors.New("pq: connection refused"), "Failed to load profile")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to load profile")
	assert.NotContains(t, rec.Body.String(), "pq:")
}
