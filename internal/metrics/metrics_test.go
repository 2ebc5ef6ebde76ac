package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	m := New()

	m.RecordLogin("user", "success")
	m.RecordLogin("user", "invalid_credentials")
	m.RecordLogin("admin", "insufficient_permissions")
	m.RecordLockout()
	m.RecordTokenIssued("access")
	m.RecordTokenIssued("access")
	m.RecordTokenIssued("refresh")
	m.RecordTokenRejected("expired")
	m.RecordRoleMutation("assign")
	m.RecordRoleMutation("remove")
	m.RecordPermissionCache(true)
	m.RecordPermissionCache(true)
	m.RecordPermissionCache(true)
	m.RecordPermissionCache(false)
	m.RecordAuditFlush(7, nil)
	m.RecordAuditFlush(3, errors.New("db down"))
	m.ObserveHTTP("POST", "/api/v1/auth/login", 200, 10*time.Millisecond)
	m.ObserveHTTP("POST", "/api/v1/auth/login", 401, 10*time.Millisecond)

	s, err := m.Summarize()
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}

	if s.Logins.Successes != 1 || s.Logins.Failures != 2 || s.Logins.Lockouts != 1 {
		t.Errorf("unexpected logins %+v", s.Logins)
	}
	if s.Tokens.AccessIssued != 2 || s.Tokens.RefreshIssued != 1 || s.Tokens.Rejections != 1 {
		t.Errorf("unexpected tokens %+v", s.Tokens)
	}
	if s.Roles.Assigned != 1 || s.Roles.Removed != 1 {
		t.Errorf("unexpected roles %+v", s.Roles)
	}
	if s.Cache.HitRate != 0.75 {
		t.Errorf("expected hit rate 0.75, got %v", s.Cache.HitRate)
	}
	if s.Audit.TotalFlushes != 2 || s.Audit.FlushErrors != 1 || s.Audit.Events != 7 {
		t.Errorf("unexpected audit %+v", s.Audit)
	}
	if s.HTTP.TotalRequests != 2 || s.HTTP.ErrorRate != 0.5 {
		t.Errorf("unexpected http %+v", s.HTTP)
	}
	if s.HTTP.P50Latency <= 0 {
		t.Errorf("expected positive p50, got %v", s.HTTP.P50Latency)
	}
	if s.Server.StartTime == 0 {
		t.Error("expected server start time to be set")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordLockout()

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	var s Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if s.Logins.Lockouts != 1 {
		t.Errorf("expected 1 lockout, got %v", s.Logins.Lockouts)
	}
}

func TestExposition(t *testing.T) {
	m := New()
	m.RecordTokenRejected("signature")
	m.RegisterDBPoolCollector(func() DBPoolStat {
		return DBPoolStat{Total: 4, Idle: 3, Acquired: 1, Max: 10}
	})

	rec := httptest.NewRecorder()
	m.Exposition().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`warden_token_rejections_total{reason="signature"} 1`,
		"warden_server_start_time_seconds",
		"warden_db_pool_max_conns 10",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestHistogramPercentileEmpty(t *testing.T) {
	if got := histogramPercentile(nil, 0.5); got != 0 {
		t.Errorf("expected 0 for nil family, got %v", got)
	}
}
