package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// LoadSymbols reads a symbol universe from a CSV file whose first column is
// the symbol and whose first row is a header. Symbols are upper-cased and
// duplicates dropped, keeping file order.
func LoadSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbols %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading symbols %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	seen := make(map[string]bool, len(records)-1)
	symbols := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) == 0 {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(row[0]))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	return symbols, nil
}
