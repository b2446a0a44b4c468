package config

import (
	"github.com/spf13/viper"
)

// SetDefaults registers the baseline configuration. Everything here
// can be overridden by the config file, PASSBOOK_* environment
// variables, or flags.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "$HOME/.local/share/passbook/passbook.db")

	v.SetDefault("extraction.structural.provider", "anthropic")
	v.SetDefault("extraction.structural.model", "")
	v.SetDefault("extraction.validator.provider", "openai")
	v.SetDefault("extraction.validator.model", "")
	v.SetDefault("extraction.leg_timeout", "3m")

	v.SetDefault("review.threshold", 0.85)

	v.SetDefault("learning.text_alpha", 0.08)
	v.SetDefault("learning.kana_alpha", 0.05)
	v.SetDefault("learning.min_support", 2)
	v.SetDefault("learning.activation", 0.6)

	v.SetDefault("server.addr", ":8080")
}
