package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if _, err := cfg.Journal.S3Options(); err != nil {
		return err
	}
	switch cfg.MapDB.Type {
	case "sqlite":
		o, err := cfg.MapDB.SQLiteOptions()
		if err != nil {
			return err
		}
		if o.Path == "" {
			return fmt.Errorf("mapdb.sqlite: path is required")
		}
	case "badger":
		o, err := cfg.MapDB.BadgerOptions()
		if err != nil {
			return err
		}
		if o.Dir == "" {
			return fmt.Errorf("mapdb.badger: dir is required")
		}
	}
	return nil
}

func formatValidationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
