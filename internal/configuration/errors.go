package configuration

import (
	"errors"
	"fmt"
)

const (
	missingSettingErrorTemplateConstant   = "missing required setting %s"
	invalidSettingErrorTemplateConstant   = "invalid setting %s=%v (rule %s)"
	invalidSettingNoValueTemplateConstant = "invalid setting %s (rule %s)"
)

// MissingSettingError reports a required setting that was not supplied.
type MissingSettingError struct {
	Setting string
}

// Error describes the missing setting.
func (missingError MissingSettingError) Error() string {
	return fmt.Sprintf(missingSettingErrorTemplateConstant, missingError.Setting)
}

// InvalidSettingError reports a setting whose value violates a validation rule.
type InvalidSettingError struct {
	Setting string
	Value   any
	Rule    string
}

// Error describes the invalid setting.
func (invalidError InvalidSettingError) Error() string {
	if invalidError.Value == nil {
		return fmt.Sprintf(invalidSettingNoValueTemplateConstant, invalidError.Setting, invalidError.Rule)
	}
	return fmt.Sprintf(invalidSettingErrorTemplateConstant, invalidError.Setting, invalidError.Value, invalidError.Rule)
}

// IsConfigurationError reports whether candidate is a missing or invalid setting error.
func IsConfigurationError(candidate error) bool {
	var missingError MissingSettingError
	var invalidError InvalidSettingError
	return errors.As(candidate, &missingError) || errors.As(candidate, &invalidError)
}
