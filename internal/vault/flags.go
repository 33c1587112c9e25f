package vault

import "osqr/internal/vconfig"

// PrivacySettings is one user's privacy configuration: the tier plugins
// get by default, per-plugin overrides, and how long raw content is kept
// before the retention sweep would prune it. Not a core memory-domain
// shape (nothing in internal/model references it), so it lives at the
// vault-facade layer that owns per-user configuration.
type PrivacySettings struct {
	DefaultTier     string
	PluginOverrides map[string]string // pluginID -> tier
	RetentionDays   int
}

func defaultPrivacySettings(cfg vconfig.PrivacyConfig) PrivacySettings {
	return PrivacySettings{
		DefaultTier:     cfg.DefaultTier,
		PluginOverrides: make(map[string]string),
		RetentionDays:   cfg.RetentionDays,
	}
}

// enabled reports whether enableMemoryVault gates every other operation:
// per spec §7, a feature-flag-disabled path behaves as if it succeeded
// with zero results rather than erroring.
func (v *Vault) enabled() bool {
	return v.flags.EnableMemoryVault
}
