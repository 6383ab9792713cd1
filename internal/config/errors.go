package config

import "fmt"

// ConfigurationError reports settings that cannot be used. It is fatal at
// load time and never raised once a run has started.
type ConfigurationError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Field != "" && e.Path != "":
		return fmt.Sprintf("config: %s: %s: %v", e.Path, e.Field, e.Err)
	case e.Path != "":
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	case e.Field != "":
		return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("config: %v", e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
