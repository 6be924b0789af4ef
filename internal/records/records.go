// Package records reads the reference record table from YAML.
package records

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/lapwatch/internal/models"
)

const defaultElapsedHours = 24

var validate = validator.New()

// File is the YAML document layout
type File struct {
	Records []Entry `yaml:"records"`
}

// Entry is one record as written in the file. Numeric marks are decimal
// strings so that values like "309.399" survive unchanged.
type Entry struct {
	Scope        string `yaml:"scope"`
	Gender       string `yaml:"gender"`
	AgeGroup     string `yaml:"age_group"`
	Nation       string `yaml:"nation"`
	DistanceKm   string `yaml:"distance_km"`
	ElapsedHours string `yaml:"elapsed_hours"`
	Holder       string `yaml:"holder"`
	Year         int    `yaml:"year"`
}

// LoadFile parses the records file at path
func LoadFile(path string) ([]*models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a records document
func Parse(r io.Reader) ([]*models.Record, error) {
	var doc File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}

	out := make([]*models.Record, 0, len(doc.Records))
	for i, e := range doc.Records {
		rec, err := e.toRecord()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e Entry) toRecord() (*models.Record, error) {
	distance, err := decimal.NewFromString(strings.TrimSpace(e.DistanceKm))
	if err != nil {
		return nil, fmt.Errorf("invalid distance_km %q", e.DistanceKm)
	}

	hours := decimal.NewFromInt(defaultElapsedHours)
	if s := strings.TrimSpace(e.ElapsedHours); s != "" {
		if hours, err = decimal.NewFromString(s); err != nil {
			return nil, fmt.Errorf("invalid elapsed_hours %q", e.ElapsedHours)
		}
	}

	rec := &models.Record{
		Scope:      models.RecordScope(strings.ToLower(strings.TrimSpace(e.Scope))),
		AgeGroup:   strings.TrimSpace(e.AgeGroup),
		Nation:     strings.ToUpper(strings.TrimSpace(e.Nation)),
		DistanceKm: distance.Round(3).InexactFloat64(),
		ElapsedSec: hours.Mul(decimal.NewFromInt(3600)).Round(0).InexactFloat64(),
		Holder:     strings.TrimSpace(e.Holder),
		Year:       e.Year,
	}
	if e.Gender != "" {
		g, ok := models.ParseGender(e.Gender)
		if !ok {
			return nil, fmt.Errorf("invalid gender %q", e.Gender)
		}
		rec.Gender = g
	}

	if err := validate.Struct(rec); err != nil {
		return nil, err
	}
	switch rec.Scope {
	case models.RecordScopeGender:
		if rec.Gender == "" {
			return nil, fmt.Errorf("gender record needs a gender")
		}
	case models.RecordScopeAgeGroup:
		if rec.AgeGroup == "" {
			return nil, fmt.Errorf("age_group record needs an age_group")
		}
	case models.RecordScopeNational:
		if rec.Nation == "" {
			return nil, fmt.Errorf("national record needs a nation")
		}
	}
	return rec, nil
}
