// Package config loads and validates the glasshouse YAML configuration.
//
// Configuration files support ${ENV_VAR} expansion and Go duration strings
// for time-valued fields. Missing optional fields receive defaults; missing
// required fields (database path, agent command) fail Load with a descriptive
// error.
package config
