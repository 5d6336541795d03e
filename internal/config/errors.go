package config

import "fmt"

// ConfigError reports an invalid or incomplete configuration. It is fatal:
// a run never starts with a ConfigError outstanding.
type ConfigError struct {
	// File is the configuration file, when known.
	File string

	// Field is the dotted path of the offending setting.
	Field string

	Problem string
}

func (e *ConfigError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Problem)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Problem)
}
