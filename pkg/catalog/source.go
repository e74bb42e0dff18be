package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// planFile is the YAML document shape for seeding the catalog.
type planFile struct {
	Plans []planEntry `yaml:"plans"`
}

type planEntry struct {
	PriceID          string `yaml:"price_id"`
	Name             string `yaml:"name"`
	Amount           int64  `yaml:"amount"`
	Currency         string `yaml:"currency"`
	Interval         string `yaml:"interval"`
	InitialCredits   int64  `yaml:"initial_credits"`
	RecurringCredits int64  `yaml:"recurring_credits"`
	Active           *bool  `yaml:"active"`
	Livemode         bool   `yaml:"livemode"`
}

// LoadFile parses a YAML plan definition file. The file is an optional
// operator-provided seed so the catalog does not depend on provider
// round-trips for well-known plans.
func LoadFile(path string) ([]Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes YAML plan definitions and validates each entry.
func ParsePlans(data []byte) ([]Plan, error) {
	var file planFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Join(ErrInvalidPlan, err)
	}

	plans := make([]Plan, 0, len(file.Plans))
	for i, entry := range file.Plans {
		if entry.PriceID == "" {
			return nil, errors.Join(ErrInvalidPlan, fmt.Errorf("plan %d: price_id is required", i))
		}
		if entry.Name == "" {
			return nil, errors.Join(ErrInvalidPlan, fmt.Errorf("plan %s: name is required", entry.PriceID))
		}
		if entry.InitialCredits < 0 || entry.RecurringCredits < 0 {
			return nil, errors.Join(ErrInvalidPlan, fmt.Errorf("plan %s: credits must not be negative", entry.PriceID))
		}
		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		plans = append(plans, Plan{
			PriceID:          entry.PriceID,
			Name:             entry.Name,
			Amount:           entry.Amount,
			Currency:         strings.ToLower(strings.TrimSpace(entry.Currency)),
			Interval:         entry.Interval,
			InitialCredits:   entry.InitialCredits,
			RecurringCredits: entry.RecurringCredits,
			Active:           active,
			Livemode:         entry.Livemode,
		})
	}
	return plans, nil
}

// Seed upserts file-defined plans into the store. Existing rows are
// overwritten so the file stays authoritative for the plans it names.
func Seed(ctx context.Context, store Store, plans []Plan) error {
	for i := range plans {
		plan := plans[i]
		if err := store.Create(ctx, &plan); err != nil {
			if !errors.Is(err, ErrDuplicatePlan) {
				return fmt.Errorf("seed plan %s: %w", plan.PriceID, err)
			}
			if err := store.Update(ctx, &plan); err != nil {
				return fmt.Errorf("seed plan %s: %w", plan.PriceID, err)
			}
		}
	}
	return nil
}
