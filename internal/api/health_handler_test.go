package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct{ err error }

func (f fakeBucket) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.err
}

func TestHealth_NothingConfiguredIsHealthy(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, "", 0)

	w := httptest.NewRecorder()
	hc.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Len(t, body.Checks, 4)
	assert.Equal(t, notConfigured, body.Checks["database"].Message)
}

func TestHealth_RedisAndArchiveUp(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	hc := NewHealthChecker(nil, client, fakeBucket{}, "abuse-archive", 0)
	checks := hc.runAllChecks(context.Background())
	assert.Equal(t, "up", checks["redis"].Status)
	assert.Equal(t, "up", checks["archive"].Status)
	assert.Equal(t, "healthy", determineOverallStatus(checks))

	hc = NewHealthChecker(nil, client, fakeBucket{err: errors.New("AccessDenied")}, "abuse-archive", 0)
	checks = hc.runAllChecks(context.Background())
	assert.Equal(t, "down", checks["archive"].Status)
	assert.Equal(t, "degraded", determineOverallStatus(checks))
}

func TestHealth_DatabaseDownNotReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	hc := NewHealthChecker(db, nil, nil, "", 0)
	w := httptest.NewRecorder()
	hc.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, "unhealthy", body["status"])
}

func TestHealth_StaleUnlockWorkerDegrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(`SELECT MAX\(checked_at\) FROM abuse_unlock_checks`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(t0.Add(-72 * time.Hour)))

	hc := NewHealthChecker(db, nil, nil, "", 48*time.Hour)
	hc.now = func() time.Time { return t0 }

	check := hc.checkUnlockWorker(context.Background())
	assert.Equal(t, "degraded", check.Status)
	assert.Contains(t, check.Message, "72h0m0s")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "42s", formatUptime(42*time.Second))
	assert.Equal(t, "1h 2m 3s", formatUptime(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "2d 0h 0m 0s", formatUptime(48*time.Hour))
}
