package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// loadItems reads a batch file into item inputs. JSON files carry an array
// of {name, attributes, target} objects; CSV files carry a header row with
// a required "name" column and optional "attributes" and "target" columns.
func loadItems(path string) ([]models.ItemInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var items []models.ItemInput
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		items, err = parseJSONItems(data)
	case ".csv":
		items, err = parseCSVItems(data)
	default:
		return nil, fmt.Errorf("unsupported batch file type %q (want .json or .csv)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("batch file contains no items")
	}
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, fmt.Errorf("item %d has no name", i+1)
		}
	}
	return items, nil
}

func parseJSONItems(data []byte) ([]models.ItemInput, error) {
	var items []models.ItemInput
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse JSON batch: %w", err)
	}
	return items, nil
}

func parseCSVItems(data []byte) ([]models.ItemInput, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV batch: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV batch needs a header row and at least one item")
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	nameIdx, ok := cols["name"]
	if !ok {
		return nil, fmt.Errorf("CSV batch is missing a \"name\" column")
	}

	pick := func(row []string, col string) string {
		idx, ok := cols[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	items := make([]models.ItemInput, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if nameIdx >= len(row) {
			continue
		}
		items = append(items, models.ItemInput{
			Name:       strings.TrimSpace(row[nameIdx]),
			Attributes: pick(row, "attributes"),
			Target:     pick(row, "target"),
		})
	}
	return items, nil
}
