package config

// Validator allows external packages to inject additional config checks
// without this package importing them back.
type Validator func(*Config) []string

var pluginValidator Validator

// RegisterValidator registers an additional validator. Only one may be
// registered; later calls overwrite earlier ones.
func RegisterValidator(fn Validator) {
	pluginValidator = fn
}

func pluginValidationIssues(cfg *Config) []string {
	if pluginValidator == nil || cfg == nil {
		return nil
	}
	return pluginValidator(cfg)
}
