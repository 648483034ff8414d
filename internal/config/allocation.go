package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrAllocationSum = errors.New("currency distribution needs to be 100%")

// Currency is one row of the allocation table.
type Currency struct {
	Symbol          string
	Percentage      decimal.Decimal
	Address         string
	WithdrawMinimum decimal.Decimal
}

// Allocation is the static target distribution, loaded once per run.
type Allocation struct {
	BaseCurrency string
	Currencies   []Currency
}

type allocationFile struct {
	BaseCurrency string `json:"baseCurrency"`
	Currencies   map[string]struct {
		Percentage      decimal.Decimal `json:"percentage"`
		Address         string          `json:"address"`
		WithdrawMinimum decimal.Decimal `json:"withdrawMinimum"`
	} `json:"currencies"`
}

func LoadAllocation(path string) (Allocation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Allocation{}, fmt.Errorf("read allocation: %w", err)
	}
	var file allocationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Allocation{}, fmt.Errorf("parse allocation %s: %w", path, err)
	}

	allocation := Allocation{BaseCurrency: strings.ToUpper(strings.TrimSpace(file.BaseCurrency))}
	for symbol, entry := range file.Currencies {
		allocation.Currencies = append(allocation.Currencies, Currency{
			Symbol:          strings.ToUpper(strings.TrimSpace(symbol)),
			Percentage:      entry.Percentage,
			Address:         entry.Address,
			WithdrawMinimum: entry.WithdrawMinimum,
		})
	}
	sort.Slice(allocation.Currencies, func(i, j int) bool {
		return allocation.Currencies[i].Symbol < allocation.Currencies[j].Symbol
	})

	if err := ValidateAllocation(allocation); err != nil {
		return Allocation{}, err
	}
	return allocation, nil
}

// ValidateAllocation rejects tables whose percentages do not add up to exactly 100.
// Nothing is normalized.
func ValidateAllocation(a Allocation) error {
	if a.BaseCurrency == "" {
		return fmt.Errorf("baseCurrency is required")
	}
	if len(a.Currencies) == 0 {
		return fmt.Errorf("at least one currency is required")
	}
	hundred := decimal.NewFromInt(100)
	total := decimal.Zero
	seen := make(map[string]struct{}, len(a.Currencies))
	for _, c := range a.Currencies {
		if c.Symbol == "" {
			return fmt.Errorf("currency symbol is required")
		}
		if c.Symbol == a.BaseCurrency {
			return fmt.Errorf("currency %s is the base currency", c.Symbol)
		}
		if _, ok := seen[c.Symbol]; ok {
			return fmt.Errorf("currency %s listed twice", c.Symbol)
		}
		seen[c.Symbol] = struct{}{}
		if c.Percentage.IsNegative() || c.Percentage.GreaterThan(hundred) {
			return fmt.Errorf("percentage for %s must be between 0 and 100", c.Symbol)
		}
		if c.WithdrawMinimum.IsNegative() {
			return fmt.Errorf("withdrawMinimum for %s must be >= 0", c.Symbol)
		}
		total = total.Add(c.Percentage)
	}
	if !total.Equal(hundred) {
		return fmt.Errorf("%w (is: %s%%)", ErrAllocationSum, total.String())
	}
	return nil
}

// Lookup returns the configured currency for symbol.
func (a Allocation) Lookup(symbol string) (Currency, bool) {
	for _, c := range a.Currencies {
		if c.Symbol == symbol {
			return c, true
		}
	}
	return Currency{}, false
}
