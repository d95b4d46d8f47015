package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
//
// Per-type required options (badger path, image path, s3 bucket) are the
// factories' business: the set of valid options belongs to each store
// implementation, not to this package.
func validateCustomRules(cfg *Config) error {
	// Validate at least one volume exists
	if len(cfg.Volumes) == 0 {
		return fmt.Errorf("volumes: at least one volume must be configured")
	}

	// Validate volume names are unique
	names := make(map[string]bool)
	for i, volume := range cfg.Volumes {
		if names[volume.Name] {
			return fmt.Errorf("volumes[%d]: duplicate volume name %q", i, volume.Name)
		}
		names[volume.Name] = true
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
