package common_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sgsupercars/storefront/internal/common"
)

func TestIdemReplaysCompletedResponse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls int32
	handler := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		common.JSON(w, http.StatusCreated, map[string]string{"id": "abc"})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/deposits", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)

	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls int32
	handler := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		common.JSONError(w, http.StatusBadGateway, common.CodeNetwork, "upstream down", nil)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/deposits", nil)
		req.Header.Set("Idempotency-Key", "key-2")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadGateway, rec.Code)
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdemInFlightConflict(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nested := httptest.NewRequest(http.MethodPost, r.URL.Path, nil)
		nested.Header.Set("Idempotency-Key", r.Header.Get("Idempotency-Key"))
		rec := httptest.NewRecorder()
		common.Idem{R: client, TTL: time.Minute}.Middleware(http.NotFoundHandler()).ServeHTTP(rec, nested)
		w.WriteHeader(rec.Code)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deposits", nil)
	req.Header.Set("Idempotency-Key", "key-3")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteErrorUsesAppErrorFields(t *testing.T) {
	rec := httptest.NewRecorder()
	common.WriteError(rec, common.ValidationFailed(map[string]string{"email": "Please enter a valid email"}, nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.JSONEq(t, `{"error":{"code":"VALIDATION_ERROR","message":"validation failed","details":{"email":"Please enter a valid email"}}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	common.WriteError(rec, http.ErrAbortHandler)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
