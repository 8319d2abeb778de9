package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/katalvlaran/grove/frame"
)

// loadCSV reads a headered CSV into a Frame. Column kinds are sniffed from
// the cells: all floats ⇒ numeric, all RFC 4122 UUIDs ⇒ uuid, otherwise
// categorical with the sorted distinct strings as the level domain, unless
// more than half the rows are distinct, in which case the column is treated
// as free text (string kind, carried but never split on). Empty cells are
// NA for every kind.
func loadCSV(path string) (*frame.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.ReuseRecord = false
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("read %s: need a header and at least one row", path)
	}
	header := records[0]
	rows := records[1:]

	f, err := frame.New(len(rows), 0)
	if err != nil {
		return nil, err
	}

	for c, name := range header {
		raw := make([]string, len(rows))
		numeric := true
		uuidLike := true
		nonEmpty := 0
		for i, rec := range rows {
			if c >= len(rec) {
				return nil, fmt.Errorf("read %s: row %d has %d fields, want %d", path, i+2, len(rec), len(header))
			}
			raw[i] = rec[c]
			if raw[i] == "" {
				continue
			}
			nonEmpty++
			if _, perr := strconv.ParseFloat(raw[i], 64); perr != nil {
				numeric = false
			}
			if _, perr := uuid.Parse(raw[i]); perr != nil {
				uuidLike = false
			}
		}

		if numeric {
			data := make([]float64, len(raw))
			for i, s := range raw {
				if s == "" {
					data[i] = math.NaN()
					continue
				}
				data[i], _ = strconv.ParseFloat(s, 64)
			}
			if err := f.AddNumeric(name, data); err != nil {
				return nil, err
			}
			continue
		}

		if uuidLike && nonEmpty > 0 {
			if err := f.AddUUID(name, raw); err != nil {
				return nil, err
			}
			continue
		}

		set := map[string]bool{}
		for _, s := range raw {
			if s != "" {
				set[s] = true
			}
		}

		// High-cardinality text is an identifier or free text, not levels.
		if len(set)*2 > len(rows) {
			if err := f.AddString(name, raw); err != nil {
				return nil, err
			}
			continue
		}

		// Categorical: sorted distinct strings form the domain.
		domain := make([]string, 0, len(set))
		for s := range set {
			domain = append(domain, s)
		}
		sort.Strings(domain)
		code := make(map[string]float64, len(domain))
		for i, s := range domain {
			code[s] = float64(i)
		}

		data := make([]float64, len(raw))
		for i, s := range raw {
			if s == "" {
				data[i] = math.NaN()
				continue
			}
			data[i] = code[s]
		}
		if err := f.AddCategorical(name, domain, data); err != nil {
			return nil, err
		}
	}
	return f, nil
}
