package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func validateStruct(c *Config) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config validation failed: database.url is required")
	}
	if c.Matching.Enabled {
		if c.Matching.Scorer.FitWeight+c.Matching.Scorer.WantWeight <= 0 {
			return fmt.Errorf("config validation failed: matching.scorer.fit_weight + want_weight must be > 0")
		}
	}
	for i, sc := range c.Scrapers {
		if sc.Schedule != "" {
			if err := ValidateSchedule(sc.Schedule); err != nil {
				return fmt.Errorf("config validation failed: scrapers[%d].schedule: %w", i, err)
			}
		}
	}
	return nil
}
