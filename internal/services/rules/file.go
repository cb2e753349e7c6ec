package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// rulesFile mirrors the YAML representation of a rule set.
type rulesFile struct {
	Level1Rate        string `yaml:"level1_rate"`
	Level2Rate        string `yaml:"level2_rate"`
	EnterpriseRate    string `yaml:"enterprise_rate"`
	HoldingPeriodDays int32  `yaml:"holding_period_days"`
	MinWithdrawAmount string `yaml:"min_withdraw_amount"`
}

// LoadFile reads a rule set from the YAML file at path.
func LoadFile(path string) (Input, error) {
	file, err := os.Open(path)
	if err != nil {
		return Input{}, fmt.Errorf("open rules: %w", err)
	}
	defer file.Close()

	var raw rulesFile
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Input{}, fmt.Errorf("decode rules: %w", err)
	}
	return raw.toInput()
}

func (f rulesFile) toInput() (Input, error) {
	level1, err := parseDecimal("level1_rate", f.Level1Rate)
	if err != nil {
		return Input{}, err
	}
	level2, err := parseDecimal("level2_rate", f.Level2Rate)
	if err != nil {
		return Input{}, err
	}
	enterprise, err := parseDecimal("enterprise_rate", f.EnterpriseRate)
	if err != nil {
		return Input{}, err
	}
	minWithdraw, err := parseDecimal("min_withdraw_amount", f.MinWithdrawAmount)
	if err != nil {
		return Input{}, err
	}
	in := Input{
		Level1Rate:        level1,
		Level2Rate:        level2,
		EnterpriseRate:    enterprise,
		HoldingPeriodDays: f.HoldingPeriodDays,
		MinWithdrawAmount: minWithdraw,
	}
	if err := Validate(in); err != nil {
		return Input{}, err
	}
	return in, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, raw)
	}
	return value, nil
}
