package records

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/lapwatch/internal/models"
)

const sample = `
records:
  - scope: course
    distance_km: "309.399"
    holder: Aleksandr Sorokin
    year: 2022
  - scope: gender
    gender: W
    distance_km: "270.116"
    holder: Camille Herron
  - scope: national
    gender: Women
    nation: gbr
    distance_km: "261.843"
    elapsed_hours: "24"
  - scope: age_group
    gender: M
    age_group: "50+"
    distance_km: 250.5
    elapsed_hours: "12.5"
`

func TestParse(t *testing.T) {
	recs, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, models.RecordScopeCourse, recs[0].Scope)
	assert.Equal(t, 309.399, recs[0].DistanceKm)
	assert.Equal(t, 86400.0, recs[0].ElapsedSec)
	assert.Equal(t, 2022, recs[0].Year)

	assert.Equal(t, models.GenderFemale, recs[1].Gender)
	assert.Equal(t, "GBR", recs[2].Nation)
	assert.Equal(t, models.GenderFemale, recs[2].Gender)

	assert.Equal(t, "50+", recs[3].AgeGroup)
	assert.Equal(t, 250.5, recs[3].DistanceKm)
	assert.Equal(t, 45000.0, recs[3].ElapsedSec)
}

func TestParseEmpty(t *testing.T) {
	recs, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestParseRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown scope", "records:\n  - scope: world\n    distance_km: \"300\"\n"},
		{"bad distance", "records:\n  - scope: course\n    distance_km: far\n"},
		{"zero distance", "records:\n  - scope: course\n    distance_km: \"0\"\n"},
		{"gender scope without gender", "records:\n  - scope: gender\n    distance_km: \"250\"\n"},
		{"national without nation", "records:\n  - scope: national\n    distance_km: \"250\"\n"},
		{"bad gender", "records:\n  - scope: course\n    gender: X\n    distance_km: \"250\"\n"},
		{"unknown field", "records:\n  - scope: course\n    distance: \"250\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}
