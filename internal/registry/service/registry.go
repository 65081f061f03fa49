// Package service implements the discovery registry of X.402-protected services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	capdomain "x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/platform/keylock"
	"x402-delegation/backend/internal/registry/domain"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	// DelegationExpiresIn is the lifetime in seconds suggested for delegations built by CreateDelegationRequest.
	DelegationExpiresIn = int64(24 * time.Hour / time.Second)
)

var (
	ErrInvalidService      = errors.New("invalid service registration")
	ErrUnreachable         = errors.New("service health check failed")
	ErrServiceNotFound     = errors.New("service not found")
	ErrServiceInactive     = errors.New("service is not active")
	ErrInvalidCapabilities = errors.New("requested capabilities are not offered by the service")
	ErrInvalidDelegate     = errors.New("delegate is required")
)

// Repository is the persistence the registry needs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Service, error)
	Save(ctx context.Context, s *domain.Service) error
	List(ctx context.Context) ([]*domain.Service, error)
}

// Checker probes a service health URL. A nil error means healthy.
type Checker interface {
	Check(ctx context.Context, url string) error
}

// Config controls live verification and registry-wide search exclusions.
type Config struct {
	VerifyEnabled bool
	// CacheTTL is how long a health check result stays fresh.
	CacheTTL time.Duration
	// ExcludeTags hides services carrying any of these tags from every search.
	ExcludeTags []string
}

// Registry owns the service catalog. Health probes never run while a service key is locked.
type Registry struct {
	repo    Repository
	checker Checker
	cfg     Config
	locks   *keylock.Table
	nowF    func() time.Time
}

// NewRegistry returns a Registry. checker may be nil when cfg.VerifyEnabled is false.
func NewRegistry(repo Repository, checker Checker, cfg Config) *Registry {
	if checker == nil {
		cfg.VerifyEnabled = false
	}
	return &Registry{repo: repo, checker: checker, cfg: cfg, locks: keylock.New(), nowF: time.Now}
}

// validate returns the structural problems of spec.
func validate(spec domain.Spec) []string {
	var errs []string
	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, "name is required")
	}
	if u, err := url.Parse(spec.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "base_url must be an absolute http(s) URL")
	}
	if len(spec.Manifest.Functions) == 0 {
		errs = append(errs, "manifest must declare at least one function")
	}
	for i, f := range spec.Manifest.Functions {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Sprintf("manifest function %d has no name", i))
		}
	}
	if len(spec.DelegationEndpoints) == 0 {
		errs = append(errs, "at least one delegation endpoint is required")
	}
	return errs
}

// RegisterService validates spec, optionally probes its health endpoint and stores it as active.
// Registering the same name and base URL again updates the existing entry.
func (r *Registry) RegisterService(ctx context.Context, spec domain.Spec) (*domain.Service, error) {
	spec.BaseURL = strings.TrimRight(strings.TrimSpace(spec.BaseURL), "/")
	if errs := validate(spec); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidService, strings.Join(errs, "; "))
	}
	svc := &domain.Service{
		ID:                  domain.ServiceID(spec.Name, spec.BaseURL),
		Name:                spec.Name,
		BaseURL:             spec.BaseURL,
		Provider:            spec.Provider,
		X402:                spec.X402,
		Manifest:            spec.Manifest,
		DelegationEndpoints: spec.DelegationEndpoints,
		Tags:                spec.Tags,
		Status:              domain.StatusActive,
	}
	var verifiedAt *time.Time
	if r.cfg.VerifyEnabled {
		if err := r.checker.Check(ctx, svc.HealthURL()); err != nil {
			log.Printf("registry: register %s: %v", svc.Name, err)
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		t := r.nowF().UTC()
		verifiedAt = &t
	}

	unlock := r.locks.Lock(svc.ID)
	defer unlock()
	now := r.nowF().UTC()
	existing, err := r.repo.GetByID(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	svc.CreatedAt = now
	if existing != nil {
		svc.CreatedAt = existing.CreatedAt
	}
	svc.UpdatedAt = now
	svc.LastVerified = verifiedAt
	if verifiedAt != nil {
		checked := *verifiedAt
		svc.LastChecked = &checked
	}
	if err := r.repo.Save(ctx, svc); err != nil {
		return nil, err
	}
	log.Printf("registry: registered service %s (%s)", svc.Name, svc.ID)
	return svc, nil
}

// SearchServices filters by status, tags, capabilities, providers and excluded tags, in that order,
// then by free text, sorts by updated_at descending and name ascending, and returns one page.
// Tag, capability and provider filters match exactly. Excluded tags are the registry-wide
// Config.ExcludeTags plus any the query adds.
func (r *Registry) SearchServices(ctx context.Context, opts domain.SearchOptions) (*domain.SearchResult, error) {
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	exclude := append(append([]string(nil), r.cfg.ExcludeTags...), opts.ExcludeTags...)
	var matched []*domain.Service
	for _, s := range all {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		if len(opts.Tags) > 0 && !anyOf(s.Tags, opts.Tags) {
			continue
		}
		if len(opts.Capabilities) > 0 && !anyOf(functionNames(s), opts.Capabilities) {
			continue
		}
		if len(opts.Providers) > 0 && !anyOf([]string{s.Provider}, opts.Providers) {
			continue
		}
		if len(exclude) > 0 && anyOf(s.Tags, exclude) {
			continue
		}
		if q := strings.TrimSpace(opts.Query); q != "" && !matchesText(s, strings.ToLower(q)) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].Name < matched[j].Name
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := max(opts.Offset, 0)
	total := len(matched)
	page := []*domain.Service{}
	if offset < total {
		page = matched[offset:min(offset+limit, total)]
	}
	return &domain.SearchResult{
		Services: page,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
		HasMore:  offset+limit < total,
	}, nil
}

func functionNames(s *domain.Service) []string {
	out := make([]string, 0, len(s.Manifest.Functions))
	for _, f := range s.Manifest.Functions {
		out = append(out, f.Name)
	}
	return out
}

func anyOf(have, want []string) bool {
	for _, h := range have {
		if slices.Contains(want, h) {
			return true
		}
	}
	return false
}

func matchesText(s *domain.Service, q string) bool {
	fields := []string{s.Name, s.Manifest.Description, s.Provider}
	fields = append(fields, s.Tags...)
	for _, f := range s.Manifest.Functions {
		fields = append(fields, f.Name, f.Description)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// GetService returns the service for id. When verification is enabled and the last health check
// is older than the cache TTL, the service is probed again; a failed probe marks it inactive.
// A failing service is probed at most once per TTL.
func (r *Registry) GetService(ctx context.Context, id string) (*domain.Service, error) {
	svc, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, ErrServiceNotFound
	}
	if !r.stale(svc) {
		return svc, nil
	}
	return r.reverify(ctx, svc)
}

func (r *Registry) stale(s *domain.Service) bool {
	if !r.cfg.VerifyEnabled || s.Status == domain.StatusDeprecated {
		return false
	}
	last := s.LastChecked
	if last == nil {
		last = s.LastVerified
	}
	return last == nil || r.nowF().Sub(*last) > r.cfg.CacheTTL
}

// reverify probes svc and stores the outcome. A healthy inactive service becomes active again.
// updated_at moves only when the status changes.
func (r *Registry) reverify(ctx context.Context, svc *domain.Service) (*domain.Service, error) {
	checkErr := r.checker.Check(ctx, svc.HealthURL())

	unlock := r.locks.Lock(svc.ID)
	defer unlock()
	cur, err := r.repo.GetByID(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrServiceNotFound
	}
	now := r.nowF().UTC()
	checked := now
	cur.LastChecked = &checked
	if checkErr != nil {
		log.Printf("registry: re-verify %s: %v", cur.Name, checkErr)
		if cur.Status != domain.StatusInactive {
			cur.Status = domain.StatusInactive
			cur.UpdatedAt = now
		}
	} else {
		if cur.Status == domain.StatusInactive {
			cur.Status = domain.StatusActive
			cur.UpdatedAt = now
		}
		cur.LastVerified = &now
	}
	if err := r.repo.Save(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// CreateDelegationRequest builds the delegation a caller should have signed to use serviceID.
// Every requested capability must appear in the service manifest. Caller constraints override
// the service defaults field by field.
func (r *Registry) CreateDelegationRequest(ctx context.Context, serviceID, delegate string, capabilities []string, overrides *capdomain.Constraints) (*domain.DelegationRequest, error) {
	if strings.TrimSpace(delegate) == "" {
		return nil, ErrInvalidDelegate
	}
	svc, err := r.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if len(capabilities) == 0 {
		return nil, fmt.Errorf("%w: none requested", ErrInvalidCapabilities)
	}
	caps := make([]capdomain.Capability, 0, len(capabilities))
	var unknown []string
	for _, name := range capabilities {
		f, ok := svc.Manifest.Function(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		perms := f.Permissions
		if len(perms) == 0 {
			perms = []string{"execute"}
		}
		caps = append(caps, capdomain.Capability{FunctionName: f.Name, Permissions: append([]string(nil), perms...)})
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCapabilities, strings.Join(unknown, ", "))
	}
	if svc.Status != domain.StatusActive {
		return nil, ErrServiceInactive
	}
	return &domain.DelegationRequest{
		ServiceID:    svc.ID,
		ServiceName:  svc.Name,
		Delegate:     delegate,
		Capabilities: caps,
		Constraints:  MergeConstraints(svc.X402.DefaultConstraints, overrides),
		ExpiresIn:    DelegationExpiresIn,
		Endpoints:    svc.DelegationEndpoints,
	}, nil
}

// MergeConstraints overlays the set fields of override onto base.
func MergeConstraints(base capdomain.Constraints, override *capdomain.Constraints) capdomain.Constraints {
	out := base
	if override == nil {
		return out
	}
	if override.MaxUses != nil {
		out.MaxUses = override.MaxUses
	}
	if override.TimeLimit != nil {
		out.TimeLimit = override.TimeLimit
	}
	if len(override.IPWhitelist) > 0 {
		out.IPWhitelist = override.IPWhitelist
	}
	if o := override.ResourceLimits; o != nil {
		rl := capdomain.ResourceLimits{}
		if base.ResourceLimits != nil {
			rl = *base.ResourceLimits
		}
		if o.MaxRequestsPerMinute != nil {
			rl.MaxRequestsPerMinute = o.MaxRequestsPerMinute
		}
		if o.MaxDataSize != nil {
			rl.MaxDataSize = o.MaxDataSize
		}
		out.ResourceLimits = &rl
	}
	if override.SpatialConstraints != nil {
		out.SpatialConstraints = override.SpatialConstraints
	}
	return out
}

// Refresh re-verifies every active service and returns how many were checked and how many failed.
func (r *Registry) Refresh(ctx context.Context) (checked, failed int, err error) {
	if !r.cfg.VerifyEnabled {
		return 0, 0, nil
	}
	all, err := r.repo.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, s := range all {
		if s.Status != domain.StatusActive {
			continue
		}
		if ctx.Err() != nil {
			return checked, failed, ctx.Err()
		}
		updated, err := r.reverify(ctx, s)
		if err != nil {
			return checked, failed, err
		}
		checked++
		if updated.Status != domain.StatusActive {
			failed++
		}
	}
	return checked, failed, nil
}

// Run refreshes the catalog every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || !r.cfg.VerifyEnabled {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checked, failed, err := r.Refresh(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("registry: refresh: %v", err)
				continue
			}
			if failed > 0 {
				log.Printf("registry: refresh checked %d services, %d now inactive", checked, failed)
			}
		}
	}
}
