package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"email-guard/internal/model"
	"email-guard/internal/service"
	"email-guard/internal/util"
)

// -------------------- fakes --------------------

type memLogCache struct {
	entries []model.AbuseLogEntry
}

func (m *memLogCache) Append(ctx context.Context, entry *model.AbuseLogEntry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLogCache) Range(ctx context.Context, since time.Time) ([]model.AbuseLogEntry, error) {
	var out []model.AbuseLogEntry
	for _, e := range m.entries {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memBlockCache struct {
	blocked map[string]model.BlockedIP
}

func newMemBlockCache() *memBlockCache {
	return &memBlockCache{blocked: make(map[string]model.BlockedIP)}
}

func (m *memBlockCache) Block(ctx context.Context, ip, reason string, duration time.Duration) error {
	m.blocked[ip] = model.BlockedIP{IP: ip, Reason: reason, ExpiresIn: int64(duration.Seconds())}
	return nil
}

func (m *memBlockCache) Lookup(ctx context.Context, ip string) (string, time.Duration, bool, error) {
	entry, ok := m.blocked[ip]
	if !ok {
		return "", 0, false, nil
	}
	return entry.Reason, time.Duration(entry.ExpiresIn) * time.Second, true, nil
}

func (m *memBlockCache) Unblock(ctx context.Context, ip string) (bool, error) {
	_, ok := m.blocked[ip]
	delete(m.blocked, ip)
	return ok, nil
}

func (m *memBlockCache) List(ctx context.Context) ([]model.BlockedIP, error) {
	out := make([]model.BlockedIP, 0, len(m.blocked))
	for _, entry := range m.blocked {
		out = append(out, entry)
	}
	return out, nil
}

type memAttemptCache struct {
	counts map[string]int
}

func newMemAttemptCache() *memAttemptCache {
	return &memAttemptCache{counts: make(map[string]int)}
}

func (m *memAttemptCache) Increment(ctx context.Context, email string) (int, error) {
	m.counts[email]++
	return m.counts[email], nil
}

func (m *memAttemptCache) Count(ctx context.Context, email string) (int, error) {
	return m.counts[email], nil
}

func (m *memAttemptCache) Clear(ctx context.Context, email string) (bool, error) {
	_, ok := m.counts[email]
	delete(m.counts, email)
	return ok, nil
}

func (m *memAttemptCache) List(ctx context.Context) ([]model.OTPAttemptEntry, error) {
	out := make([]model.OTPAttemptEntry, 0, len(m.counts))
	for email, count := range m.counts {
		out = append(out, model.OTPAttemptEntry{Email: email, Attempts: count})
	}
	return out, nil
}

type memFreqCache struct {
	last map[string]time.Time
}

func newMemFreqCache() *memFreqCache {
	return &memFreqCache{last: make(map[string]time.Time)}
}

func (m *memFreqCache) LastSend(ctx context.Context, email string) (time.Time, bool, error) {
	at, ok := m.last[email]
	return at, ok, nil
}

func (m *memFreqCache) MarkSend(ctx context.Context, email string, at time.Time) error {
	m.last[email] = at
	return nil
}

func (m *memFreqCache) List(ctx context.Context) ([]model.EmailFrequencyEntry, error) {
	out := make([]model.EmailFrequencyEntry, 0, len(m.last))
	for email, at := range m.last {
		out = append(out, model.EmailFrequencyEntry{Email: email, LastRequest: at})
	}
	return out, nil
}

type adminFixture struct {
	router   chi.Router
	logs     *memLogCache
	blocks   *memBlockCache
	attempts *memAttemptCache
}

func newAdminFixture(t *testing.T, token string) *adminFixture {
	t.Helper()

	logs := &memLogCache{}
	blocks := newMemBlockCache()
	attempts := newMemAttemptCache()
	svc := service.NewAbuseService(logs, blocks, attempts, newMemFreqCache(), nil, "abuse-logs", time.Hour)

	router := chi.NewRouter()
	NewAdminHandler(svc, token, util.Get()).RegisterRoutes(router)

	return &adminFixture{router: router, logs: logs, blocks: blocks, attempts: attempts}
}

func (f *adminFixture) do(t *testing.T, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// -------------------- tests --------------------

func TestAdminTokenRequired(t *testing.T) {
	fixture := newAdminFixture(t, "secret")

	rec := fixture.do(t, http.MethodGet, "/admin/email-abuse/stats", "", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status without token = %d, want 403", rec.Code)
	}

	rec = fixture.do(t, http.MethodGet, "/admin/email-abuse/stats", "wrong", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status with wrong token = %d, want 403", rec.Code)
	}

	rec = fixture.do(t, http.MethodGet, "/admin/email-abuse/stats", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rec.Code)
	}
}

func TestAdminStatsDefaultsTimeframe(t *testing.T) {
	fixture := newAdminFixture(t, "")
	fixture.logs.entries = append(fixture.logs.entries, model.AbuseLogEntry{
		Timestamp: time.Now().Add(-time.Hour),
		IP:        "203.0.113.9",
		Type:      model.CodeEmailFrequencyLimit,
	})

	rec := fixture.do(t, http.MethodGet, "/admin/email-abuse/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			TotalAttempts int    `json:"totalAttempts"`
			Timeframe     string `json:"timeframe"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Data.Timeframe != "24h" || resp.Data.TotalAttempts != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestAdminStatsInvalidTimeframe(t *testing.T) {
	fixture := newAdminFixture(t, "")

	rec := fixture.do(t, http.MethodGet, "/admin/email-abuse/stats?timeframe=48h", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminBlockAndUnblockIP(t *testing.T) {
	fixture := newAdminFixture(t, "")

	rec := fixture.do(t, http.MethodPost, "/admin/email-abuse/block-ip", "",
		`{"ip":"203.0.113.9","reason":"spam source","duration":600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("block status = %d, body %s", rec.Code, rec.Body.String())
	}

	if _, ok := fixture.blocks.blocked["203.0.113.9"]; !ok {
		t.Fatal("ip not present in block list")
	}

	rec = fixture.do(t, http.MethodDelete, "/admin/email-abuse/unblock-ip/203.0.113.9", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unblock status = %d", rec.Code)
	}

	rec = fixture.do(t, http.MethodDelete, "/admin/email-abuse/unblock-ip/203.0.113.9", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second unblock status = %d, want 404", rec.Code)
	}
}

func TestAdminBlockIPValidation(t *testing.T) {
	fixture := newAdminFixture(t, "")

	rec := fixture.do(t, http.MethodPost, "/admin/email-abuse/block-ip", "", `{bad json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rec.Code)
	}

	rec = fixture.do(t, http.MethodPost, "/admin/email-abuse/block-ip", "", `{"reason":"no ip"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing ip status = %d, want 400", rec.Code)
	}
}

func TestAdminClearOTPAttempts(t *testing.T) {
	fixture := newAdminFixture(t, "")
	fixture.attempts.counts["donor@example.com"] = 5

	rec := fixture.do(t, http.MethodDelete, "/admin/email-abuse/clear-otp-attempts/donor@example.com", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}

	rec = fixture.do(t, http.MethodDelete, "/admin/email-abuse/clear-otp-attempts/donor@example.com", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second clear status = %d, want 404", rec.Code)
	}
}

func TestAdminExportCSV(t *testing.T) {
	fixture := newAdminFixture(t, "")
	fixture.logs.entries = append(fixture.logs.entries, model.AbuseLogEntry{
		Timestamp: time.Now().Add(-time.Hour),
		IP:        "203.0.113.9",
		Type:      model.CodeSuspiciousActivity,
	})

	rec := fixture.do(t, http.MethodGet, "/admin/email-abuse/export?format=csv", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("content disposition = %q", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), "Timestamp,IP,Email,Type,Details,UserAgent,Referer,Origin") {
		t.Errorf("csv header missing: %q", rec.Body.String())
	}
}

func TestAdminExportUnknownFormat(t *testing.T) {
	fixture := newAdminFixture(t, "")

	rec := fixture.do(t, http.MethodGet, "/admin/email-abuse/export?format=xml", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminSearchRequiresQuery(t *testing.T) {
	fixture := newAdminFixture(t, "")

	rec := fixture.do(t, http.MethodGet, "/admin/email-abuse/search", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing query status = %d, want 400", rec.Code)
	}

	rec = fixture.do(t, http.MethodGet, "/admin/email-abuse/search?q=203.0.113.9", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("no backend status = %d, want 503", rec.Code)
	}
}
