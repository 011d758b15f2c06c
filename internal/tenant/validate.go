package tenant

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/getools/gesniper/internal/domain"
)

// Validation errors. API handlers map these onto 400 responses.
var (
	ErrInvalidTenantID   = errors.New("invalid tenant id")
	ErrInvalidChannel    = errors.New("invalid channel")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidToken      = errors.New("invalid admin token")
	ErrInvalidWebhook    = errors.New("invalid webhook url")
	ErrInvalidThresholds = errors.New("invalid alert thresholds")
	ErrInvalidBrackets   = errors.New("invalid price brackets")
	ErrPathEscape        = errors.New("tenant path escapes config root")
	ErrNotFound          = errors.New("tenant not found")
	ErrBanned            = errors.New("tenant is banned")
)

var (
	// Chat platform snowflakes are 17-19 decimal digits.
	tenantIDRe = regexp.MustCompile(`^[0-9]{17,19}$`)
	// Channels and roles are either snowflakes or short symbolic names.
	symbolicRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)
	tokenRe    = regexp.MustCompile(`^[A-Za-z0-9_.-]{50,70}$`)
)

const (
	webhookPrefix = "https://discord.com/api/webhooks/"
	webhookMaxLen = 500
)

// ValidateTenantID accepts snowflake tenant ids only.
func ValidateTenantID(id string) error {
	if !tenantIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}

// ValidateChannelID accepts a snowflake or a symbolic channel name.
func ValidateChannelID(id string) error {
	if tenantIDRe.MatchString(id) || symbolicRe.MatchString(id) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidChannel, id)
}

// ValidateRoleID accepts a snowflake or a symbolic role name.
func ValidateRoleID(id string) error {
	if tenantIDRe.MatchString(id) || symbolicRe.MatchString(id) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRole, id)
}

// ValidateToken checks the admin token shape without revealing it in the
// error.
func ValidateToken(token string) error {
	if !tokenRe.MatchString(token) {
		return ErrInvalidToken
	}
	return nil
}

// ValidateWebhook only accepts Discord webhook URLs of sane length.
func ValidateWebhook(url string) error {
	if len(url) > webhookMaxLen || !strings.HasPrefix(url, webhookPrefix) {
		return fmt.Errorf("%w", ErrInvalidWebhook)
	}
	return nil
}

func validateThresholds(t AlertThresholds) error {
	if t.MinMarginGP < 0 {
		return fmt.Errorf("%w: min margin must not be negative", ErrInvalidThresholds)
	}
	if t.MinScore < 0 || t.MinScore > 100 {
		return fmt.Errorf("%w: min score must be within [0, 100]", ErrInvalidThresholds)
	}
	if t.SpikeRisePct < 0 || t.SpikeRisePct > 100 {
		return fmt.Errorf("%w: spike rise pct must be within [0, 100]", ErrInvalidThresholds)
	}
	if t.MaxAlertsPerInterval < 1 || t.MaxAlertsPerInterval > 10 {
		return fmt.Errorf("%w: max alerts per interval must be within [1, 10]", ErrInvalidThresholds)
	}
	for _, tier := range t.EnabledTiers {
		if !domain.KnownTier(tier) {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidThresholds, tier)
		}
	}
	return nil
}

func validateBrackets(b PriceBrackets) error {
	if b.CheapMax <= 0 || b.MediumMax <= b.CheapMax || b.ExpensiveMax <= b.MediumMax {
		return fmt.Errorf("%w: brackets must be positive and ascending", ErrInvalidBrackets)
	}
	return nil
}

var knownChannelKinds = func() map[string]struct{} {
	m := make(map[string]struct{}, len(KnownChannelKinds))
	for _, k := range KnownChannelKinds {
		m[k] = struct{}{}
	}
	return m
}()

func validRoleKind(kind string) bool {
	switch kind {
	case RoleKindDumps, RoleKindSpikes, RoleKindFlips:
		return true
	}
	if strings.HasPrefix(kind, RiskRolePrefix) || strings.HasPrefix(kind, QualityRolePrefix) {
		return true
	}
	return false
}

// Validate checks a whole tenant document.
func (c *Config) Validate() error {
	if err := ValidateTenantID(c.TenantID); err != nil {
		return err
	}
	if c.AdminToken != "" {
		if err := ValidateToken(c.AdminToken); err != nil {
			return err
		}
	}
	for kind, id := range c.Channels {
		if _, ok := knownChannelKinds[kind]; !ok {
			return fmt.Errorf("%w: unknown channel kind %q", ErrInvalidChannel, kind)
		}
		if err := ValidateChannelID(id); err != nil {
			return err
		}
	}
	for kind, id := range c.Roles {
		if !validRoleKind(kind) {
			return fmt.Errorf("%w: unknown role kind %q", ErrInvalidRole, kind)
		}
		if err := ValidateRoleID(id); err != nil {
			return err
		}
	}
	for tier, tr := range c.TierRoles {
		if !domain.KnownTier(tier) {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidThresholds, tier)
		}
		if tr.RoleID != "" {
			if err := ValidateRoleID(tr.RoleID); err != nil {
				return err
			}
		}
	}
	if c.MinTier != "" && !domain.KnownTier(c.MinTier) {
		return fmt.Errorf("%w: unknown min tier %q", ErrInvalidThresholds, c.MinTier)
	}
	if err := validateThresholds(c.Thresholds); err != nil {
		return err
	}
	return validateBrackets(c.Brackets)
}

// docPath resolves a tenant document path and refuses anything that leaves
// the config root.
func docPath(root, tenantID string) (string, error) {
	path := filepath.Join(root, tenantID+".json")
	cleanRoot := filepath.Clean(root)
	if !strings.HasPrefix(filepath.Clean(path), cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, tenantID)
	}
	return path, nil
}
