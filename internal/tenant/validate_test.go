package tenant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTenant = "123456789012345678"

func TestValidateTenantID(t *testing.T) {
	assert.NoError(t, ValidateTenantID(validTenant))
	assert.NoError(t, ValidateTenantID("12345678901234567"))
	assert.NoError(t, ValidateTenantID("1234567890123456789"))

	bad := []string{
		"",
		"1234567890123456",      // 16 digits
		"12345678901234567890",  // 20 digits
		"12345678901234567a",    // non-digit
		"../../etc/passwd",      // traversal
		"123456789012345678/..", // traversal suffix
	}
	for _, id := range bad {
		assert.ErrorIs(t, ValidateTenantID(id), ErrInvalidTenantID, id)
	}
}

func TestValidateChannelAndRole(t *testing.T) {
	assert.NoError(t, ValidateChannelID(validTenant))
	assert.NoError(t, ValidateChannelID("cheap-flips_01"))
	assert.ErrorIs(t, ValidateChannelID(""), ErrInvalidChannel)
	assert.ErrorIs(t, ValidateChannelID("has space"), ErrInvalidChannel)
	assert.ErrorIs(t, ValidateChannelID(strings.Repeat("a", 101)), ErrInvalidChannel)

	assert.NoError(t, ValidateRoleID("987654321098765432"))
	assert.ErrorIs(t, ValidateRoleID("bad!role"), ErrInvalidRole)
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, ValidateToken(strings.Repeat("a", 50)))
	assert.NoError(t, ValidateToken(strings.Repeat("A1_.-", 14))) // 70 chars
	assert.ErrorIs(t, ValidateToken(strings.Repeat("a", 49)), ErrInvalidToken)
	assert.ErrorIs(t, ValidateToken(strings.Repeat("a", 71)), ErrInvalidToken)
	assert.ErrorIs(t, ValidateToken(strings.Repeat("a", 49)+"!"), ErrInvalidToken)
}

func TestValidateWebhook(t *testing.T) {
	assert.NoError(t, ValidateWebhook("https://discord.com/api/webhooks/123/abc"))
	assert.ErrorIs(t, ValidateWebhook("https://evil.example/api/webhooks/123"), ErrInvalidWebhook)
	assert.ErrorIs(t, ValidateWebhook("http://discord.com/api/webhooks/123"), ErrInvalidWebhook)
	long := "https://discord.com/api/webhooks/" + strings.Repeat("x", 500)
	assert.ErrorIs(t, ValidateWebhook(long), ErrInvalidWebhook)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig(validTenant)
	require.NoError(t, cfg.Validate())

	cfg = DefaultConfig(validTenant)
	cfg.Channels["dumps"] = "234567890123456789"
	cfg.Channels["cheap_flips"] = "general-cheap"
	require.NoError(t, cfg.Validate())

	cfg.Channels["mystery"] = "234567890123456789"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidChannel)
}

func TestConfigValidateSpecialtyChannels(t *testing.T) {
	cfg := DefaultConfig(validTenant)
	cfg.Channels[ChannelRecipeItems] = "456789012345678901"
	cfg.Channels[ChannelHighAlchMargins] = "456789012345678902"
	cfg.Channels[ChannelHighLimitItems] = "456789012345678903"
	assert.NoError(t, cfg.Validate())
}

func TestTierEnabledEmptyListAllowsAll(t *testing.T) {
	cfg := DefaultConfig(validTenant)
	cfg.Thresholds.EnabledTiers = nil
	for _, tier := range []string{"iron", "sapphire", "diamond"} {
		assert.True(t, cfg.TierEnabled(tier), tier)
	}

	cfg.TierRoles["sapphire"] = TierRole{Enabled: false}
	assert.False(t, cfg.TierEnabled("sapphire"), "explicit per-tier disable still wins")
	assert.True(t, cfg.TierEnabled("iron"))
}

func TestConfigValidateRoles(t *testing.T) {
	cfg := DefaultConfig(validTenant)
	cfg.Roles["dumps"] = "345678901234567890"
	cfg.Roles["risk_low"] = "345678901234567890"
	cfg.Roles["quality_elite"] = "345678901234567890"
	require.NoError(t, cfg.Validate())

	cfg.Roles["mystery"] = "345678901234567890"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidRole)
}

func TestConfigValidateThresholds(t *testing.T) {
	cfg := DefaultConfig(validTenant)
	cfg.Thresholds.MinScore = 101
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThresholds)

	cfg = DefaultConfig(validTenant)
	cfg.Thresholds.MaxAlertsPerInterval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThresholds)

	cfg = DefaultConfig(validTenant)
	cfg.Thresholds.MaxAlertsPerInterval = 11
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThresholds)

	cfg = DefaultConfig(validTenant)
	cfg.Thresholds.SpikeRisePct = 101
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThresholds)

	cfg = DefaultConfig(validTenant)
	cfg.Thresholds.EnabledTiers = []string{"gold", "obsidian"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThresholds)

	cfg = DefaultConfig(validTenant)
	cfg.TierRoles["obsidian"] = TierRole{Enabled: true}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThresholds)

	cfg = DefaultConfig(validTenant)
	cfg.MinTier = "obsidian"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidThresholds)
}

func TestConfigValidateBrackets(t *testing.T) {
	cfg := DefaultConfig(validTenant)
	cfg.Brackets.MediumMax = cfg.Brackets.CheapMax
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidBrackets)

	cfg = DefaultConfig(validTenant)
	cfg.Brackets.CheapMax = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidBrackets)
}

func TestDocPathRejectsEscape(t *testing.T) {
	_, err := docPath("/data/tenants", "../secrets")
	assert.ErrorIs(t, err, ErrPathEscape)

	path, err := docPath("/data/tenants", validTenant)
	require.NoError(t, err)
	assert.Equal(t, "/data/tenants/"+validTenant+".json", path)
}
