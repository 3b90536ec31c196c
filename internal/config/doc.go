// Package config loads support-desk configuration.
//
// Files are YAML (.yaml, .yml) or TOML (.toml), chosen by extension.
// ${VAR} references are replaced with environment values before parsing,
// so secrets can stay out of the file:
//
//	auth:
//	  jwt_secret: "${SUPPORT_DESK_JWT_SECRET}"
//
// Durations are Go duration strings ("5s", "2m"). Missing values take the
// defaults from Default, and Validate reports the first problem found.
//
// Path resolution for the CLI: $SUPPORT_DESK_CONFIG, then
// $XDG_CONFIG_HOME/support-desk/config.yaml, then
// ~/.config/support-desk/config.yaml.
package config
