package profile

import "github.com/courierlink/courier/internal/config"

const DefaultProfileName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.Client.DefaultProfile != "" {
		return cfg.Client.DefaultProfile
	}
	return DefaultProfileName
}
