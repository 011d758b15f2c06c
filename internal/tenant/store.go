package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/getools/gesniper/internal/persistence"
)

const banFile = "banned_servers.json"

// Store reads and writes tenant documents. Writes go through a temp file and
// rename so readers never observe a torn document. The durable threshold
// mirror (settings repo) is optional; tests run without it.
type Store struct {
	root     string
	settings persistence.TenantSettingsRepo
	log      zerolog.Logger

	mu     sync.RWMutex
	cache  map[string]*Config
	banned map[string]struct{}
}

// NewStore creates the config root if needed and loads the ban list.
func NewStore(root string, settings persistence.TenantSettingsRepo, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config root: %w", err)
	}
	s := &Store{
		root:     root,
		settings: settings,
		log:      log.With().Str("component", "tenant").Logger(),
		cache:    make(map[string]*Config),
		banned:   make(map[string]struct{}),
	}
	if err := s.loadBanList(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the tenant document, creating the default lazily on first
// access. Banned tenants still resolve; callers decide what banned means.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if cfg, ok := s.cache[tenantID]; ok {
		s.mu.RUnlock()
		return cfg.Clone(), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.cache[tenantID]; ok {
		return cfg.Clone(), nil
	}

	cfg, err := s.readDoc(tenantID)
	if os.IsNotExist(err) {
		cfg = DefaultConfig(tenantID)
		if werr := s.writeDoc(cfg); werr != nil {
			return nil, werr
		}
		s.log.Info().Str("tenant", tenantID).Msg("created default tenant config")
	} else if err != nil {
		return nil, err
	}

	_, cfg.Banned = s.banned[tenantID]
	s.cache[tenantID] = cfg
	return cfg.Clone(), nil
}

// Put validates and persists a tenant document, then mirrors the alert
// thresholds into the database.
func (s *Store) Put(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cp := cfg.Clone()
	cp.UpdatedAt = time.Now().Unix()

	s.mu.Lock()
	if err := s.writeDoc(cp); err != nil {
		s.mu.Unlock()
		return err
	}
	_, cp.Banned = s.banned[cp.TenantID]
	s.cache[cp.TenantID] = cp
	s.mu.Unlock()

	if s.settings != nil {
		if err := s.mirror(ctx, cp); err != nil {
			s.log.Warn().Str("tenant", cp.TenantID).Err(err).Msg("failed to mirror tenant settings")
		}
	}
	return nil
}

func (s *Store) mirror(ctx context.Context, cfg *Config) error {
	if err := s.settings.PutAlertSettings(ctx, cfg.TenantID, persistence.AlertSettings{
		MinMarginGP:          cfg.Thresholds.MinMarginGP,
		MinScore:             cfg.Thresholds.MinScore,
		SpikeRisePct:         cfg.Thresholds.SpikeRisePct,
		EnabledTiers:         cfg.Thresholds.EnabledTiers,
		MaxAlertsPerInterval: cfg.Thresholds.MaxAlertsPerInterval,
	}); err != nil {
		return err
	}
	if err := s.settings.PutMinTier(ctx, cfg.TenantID, cfg.MinTier); err != nil {
		return err
	}
	for tier, tr := range cfg.TierRoles {
		if err := s.settings.PutTierSetting(ctx, cfg.TenantID, tier, persistence.TierSetting{
			RoleID:  tr.RoleID,
			Enabled: tr.Enabled,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the tenant document.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	path, err := docPath(s.root, tenantID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, tenantID)
	if err := os.Remove(path); os.IsNotExist(err) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("failed to delete tenant config: %w", err)
	}
	return nil
}

// List returns the known tenant ids, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list config root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == banFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if ValidateTenantID(id) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Banned reports whether the tenant is on the ban list.
func (s *Store) Banned(tenantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.banned[tenantID]
	return ok
}

// Ban adds the tenant to the aggregate ban list.
func (s *Store) Ban(ctx context.Context, tenantID string) error {
	return s.setBanned(tenantID, true)
}

// Unban removes the tenant from the ban list.
func (s *Store) Unban(ctx context.Context, tenantID string) error {
	return s.setBanned(tenantID, false)
}

func (s *Store) setBanned(tenantID string, banned bool) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if banned {
		s.banned[tenantID] = struct{}{}
	} else {
		delete(s.banned, tenantID)
	}
	if cfg, ok := s.cache[tenantID]; ok {
		cfg.Banned = banned
	}
	return s.writeBanList()
}

func (s *Store) readDoc(tenantID string) (*Config, error) {
	path, err := docPath(s.root, tenantID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig(tenantID)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode tenant config %s: %w", tenantID, err)
	}
	cfg.TenantID = tenantID
	return cfg, nil
}

func (s *Store) writeDoc(cfg *Config) error {
	path, err := docPath(s.root, cfg.TenantID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tenant config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write tenant config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace tenant config: %w", err)
	}
	return nil
}

func (s *Store) loadBanList() error {
	raw, err := os.ReadFile(filepath.Join(s.root, banFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ban list: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("failed to decode ban list: %w", err)
	}
	for _, id := range ids {
		s.banned[id] = struct{}{}
	}
	return nil
}

func (s *Store) writeBanList() error {
	ids := make([]string, 0, len(s.banned))
	for id := range s.banned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ban list: %w", err)
	}
	path := filepath.Join(s.root, banFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write ban list: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace ban list: %w", err)
	}
	return nil
}
