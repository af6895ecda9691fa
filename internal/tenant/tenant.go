// Package tenant implements the tenant registry: API-key/JWT resolution,
// quota accounting, and usage tracking.
package tenant

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Quotas are the limits attached to a tenant.
type Quotas struct {
	DailyRequests      int `json:"daily_requests"`
	MonthlyRequests     int `json:"monthly_requests"`
	RateLimitPerMinute  int `json:"rate_limit_per_minute"`
}

// Tenant is a logical customer: one or more API keys, an allow-list of
// provider names, a routing policy selection, and quotas.
type Tenant struct {
	TenantID         string   `json:"tenant_id"`
	APIKeys          []string `json:"api_keys"`
	AllowedProviders []string `json:"allowed_providers"`
	Policy           string   `json:"policy"`
	Quotas           Quotas   `json:"quotas"`
	JWTSubject       string   `json:"jwt_subject,omitempty"`
}

// Usage is a tenant's in-memory counters. They only grow, except
// DailyRequests, which resets to zero once 24h have passed since
// LastDailyReset.
type Usage struct {
	mu              sync.Mutex
	DailyRequests   int64
	MonthlyRequests int64
	TotalTokens     int64
	EstimatedCost   float64
	LastDailyReset  time.Time
}

func newUsage() *Usage {
	return &Usage{LastDailyReset: time.Now()}
}

func (u *Usage) maybeResetDaily() {
	if time.Since(u.LastDailyReset) >= 24*time.Hour {
		u.DailyRequests = 0
		u.LastDailyReset = time.Now()
	}
}

// QuotaKind selects which counter CheckQuota reads.
type QuotaKind string

const (
	QuotaDaily   QuotaKind = "daily"
	QuotaMonthly QuotaKind = "monthly"
)

// QuotaStatus is the answer to a quota check.
type QuotaStatus struct {
	Allowed   bool
	Used      int64
	Limit     int64
	Remaining int64
}

// UsageRecord is what TrackUsage increments by, recorded after a completed
// request.
type UsageRecord struct {
	TotalTokens   int
	DurationMs    int64
	Model         string
	EstimatedCost float64
}

// Registry owns all Tenants and Tenant Usage. All operations are safe
// under concurrent callers.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]*Tenant
	byAPIKey     map[string]*Tenant
	usage        map[string]*Usage
	jwtSecret    []byte
	logger       *logrus.Logger
}

func NewRegistry(logger *logrus.Logger, jwtSecret []byte) *Registry {
	return &Registry{
		byID:      make(map[string]*Tenant),
		byAPIKey:  make(map[string]*Tenant),
		usage:     make(map[string]*Usage),
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// LoadDir loads every tenant JSON file in dir, building the reverse index.
// It replaces the whole in-memory map atomically once all files parse.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading tenant directory %s: %w", dir, err)
	}

	byID := make(map[string]*Tenant)
	byAPIKey := make(map[string]*Tenant)

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading tenant file %s: %w", path, err)
		}
		var t Tenant
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parsing tenant file %s: %w", path, err)
		}
		if _, exists := byID[t.TenantID]; exists {
			return fmt.Errorf("duplicate tenant id %q", t.TenantID)
		}
		byID[t.TenantID] = &t
		for _, key := range t.APIKeys {
			if other, exists := byAPIKey[key]; exists {
				return fmt.Errorf("api key collision between tenants %q and %q", other.TenantID, t.TenantID)
			}
			byAPIKey[key] = &t
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = byID
	r.byAPIKey = byAPIKey
	for id := range byID {
		if _, ok := r.usage[id]; !ok {
			r.usage[id] = newUsage()
		}
	}
	if r.logger != nil {
		r.logger.WithField("count", len(byID)).Info("loaded tenants")
	}
	return nil
}

// FindByAPIKey resolves a bearer credential to a tenant using a
// constant-time comparison over the precomputed reverse index, so lookup
// cost does not leak which prefix of an unknown key matched.
func (r *Registry) FindByAPIKey(key string) *Tenant {
	if key == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for candidate, t := range r.byAPIKey {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return t
		}
	}
	return nil
}

// FindByJWT validates a bearer JWT and resolves its subject claim to a
// tenant configured with a matching JWTSubject.
func (r *Registry) FindByJWT(tokenString string) (*Tenant, error) {
	if len(r.jwtSecret) == 0 {
		return nil, fmt.Errorf("jwt auth not configured")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byID {
		if t.JWTSubject != "" && strings.EqualFold(t.JWTSubject, sub) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no tenant matches subject %q", sub)
}

func (r *Registry) usageFor(tenantID string) *Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usage[tenantID]
	if !ok {
		u = newUsage()
		r.usage[tenantID] = u
	}
	return u
}

// CheckQuota is a pure read; it applies the daily-reset rule in place when
// reading a daily quota.
func (r *Registry) CheckQuota(tenantID string, kind QuotaKind) QuotaStatus {
	r.mu.RLock()
	t, ok := r.byID[tenantID]
	r.mu.RUnlock()
	if !ok {
		return QuotaStatus{Allowed: false}
	}

	u := r.usageFor(tenantID)
	u.mu.Lock()
	defer u.mu.Unlock()

	switch kind {
	case QuotaDaily:
		u.maybeResetDaily()
		limit := int64(t.Quotas.DailyRequests)
		if limit <= 0 {
			return QuotaStatus{Allowed: true, Used: u.DailyRequests, Limit: 0, Remaining: -1}
		}
		remaining := limit - u.DailyRequests
		return QuotaStatus{Allowed: remaining > 0, Used: u.DailyRequests, Limit: limit, Remaining: remaining}
	case QuotaMonthly:
		limit := int64(t.Quotas.MonthlyRequests)
		if limit <= 0 {
			return QuotaStatus{Allowed: true, Used: u.MonthlyRequests, Limit: 0, Remaining: -1}
		}
		remaining := limit - u.MonthlyRequests
		return QuotaStatus{Allowed: remaining > 0, Used: u.MonthlyRequests, Limit: limit, Remaining: remaining}
	default:
		return QuotaStatus{Allowed: true}
	}
}

// TrackUsage atomically increments daily/monthly counters and token/cost
// totals. Blocked requests (quota already exhausted) must not call this.
func (r *Registry) TrackUsage(tenantID string, rec UsageRecord) {
	u := r.usageFor(tenantID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.maybeResetDaily()
	u.DailyRequests++
	u.MonthlyRequests++
	u.TotalTokens += int64(rec.TotalTokens)
	u.EstimatedCost += rec.EstimatedCost
}

// UsageSnapshot returns a copy of a tenant's usage counters.
func (r *Registry) UsageSnapshot(tenantID string) Usage {
	u := r.usageFor(tenantID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return Usage{
		DailyRequests:   u.DailyRequests,
		MonthlyRequests: u.MonthlyRequests,
		TotalTokens:     u.TotalTokens,
		EstimatedCost:   u.EstimatedCost,
		LastDailyReset:  u.LastDailyReset,
	}
}

// Get returns a tenant by id, for internal wiring (e.g. tests).
func (r *Registry) Get(tenantID string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[tenantID]
	return t, ok
}

// Put registers a tenant directly, bypassing LoadDir; used by tests and by
// programmatic provisioning.
func (r *Registry) Put(t *Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.TenantID] = t
	for _, key := range t.APIKeys {
		r.byAPIKey[key] = t
	}
	if _, ok := r.usage[t.TenantID]; !ok {
		r.usage[t.TenantID] = newUsage()
	}
}
