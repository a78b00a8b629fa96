package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(rs []Resident) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Name)
	}
	return out
}

func TestLoadSampleWhenMissing(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Sunrise Apartments", d.Society().Name)
	assert.Len(t, d.Residents(), 3)
	assert.Len(t, d.Staff(), 4)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.yaml")
	content := `
society: { id: golden, name: Golden Heights Residency }
residents:
  - { id: r1, name: Asha Menon, flat: D-404, phone: "+91 1", nok_phone: "+91 2", devices: [ { tag: gas-d404, kind: gas_sensor } ] }
staff:
  - { id: s1, name: Guard One, role: Security Guard }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "golden", d.Society().ID)

	r, ok := d.ResidentByDevice("gas-d404")
	require.True(t, ok)
	assert.Equal(t, "Asha Menon", r.Name)
	assert.True(t, r.Active(), "missing status counts as active")
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.yaml")
	require.NoError(t, os.WriteFile(path, []byte("residents: [ {"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseRejectsDuplicateDevice(t *testing.T) {
	_, err := Parse([]byte(`
residents:
  - { name: A, flat: A-1, devices: [ { tag: dup } ] }
  - { name: B, flat: B-1, devices: [ { tag: dup } ] }
`))
	assert.ErrorContains(t, err, "dup")
}

func TestParseRejectsMissingFlat(t *testing.T) {
	_, err := Parse([]byte(`residents: [ { name: Nowhere } ]`))
	assert.Error(t, err)
}

func TestSearchResidents(t *testing.T) {
	d, err := Parse(sampleYAML)
	require.NoError(t, err)

	tests := []struct {
		term string
		want []string
	}{
		{"", []string{"Mrs. Priya Sharma", "Mr. Rajesh Kumar", "Mrs. Sunita Gupta"}},
		{"   ", []string{"Mrs. Priya Sharma", "Mr. Rajesh Kumar", "Mrs. Sunita Gupta"}},
		{"mrs", []string{"Mrs. Priya Sharma", "Mrs. Sunita Gupta"}},
		{"b-2", []string{"Mr. Rajesh Kumar"}},
		{"KUMAR", []string{"Mr. Rajesh Kumar"}},
		{"z-999", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Equal(t, tt.want, names(d.SearchResidents(tt.term)))
		})
	}
}

func TestResidentStats(t *testing.T) {
	d, err := Parse(sampleYAML)
	require.NoError(t, err)
	assert.Equal(t, ResidentStats{Total: 3, Active: 2, Inactive: 1}, d.ResidentStats())
}

func TestResidentStatsCountsExactStatuses(t *testing.T) {
	d, err := Parse([]byte(`
residents:
  - { name: A, flat: A-1, status: active }
  - { name: B, flat: B-1 }
  - { name: C, flat: C-1, status: Inactive }
  - { name: D, flat: D-1, status: suspended }
`))
	require.NoError(t, err)

	assert.Equal(t, ResidentStats{Total: 4, Active: 2, Inactive: 1}, d.ResidentStats())
	for _, r := range d.Residents() {
		if r.Name == "D" {
			assert.False(t, r.Active())
			assert.False(t, r.Inactive())
		}
	}
}

func TestResidentByFlat(t *testing.T) {
	d, err := Parse([]byte(`
residents:
  - { name: Former Owner, flat: A-101, status: inactive }
  - { name: Current Owner, flat: A-101, status: active }
  - { name: Tenant, flat: A-101, status: active }
`))
	require.NoError(t, err)

	r, ok := d.ResidentByFlat(" a-101 ")
	require.True(t, ok)
	assert.Equal(t, "Current Owner", r.Name)

	_, ok = d.ResidentByFlat("Z-1")
	assert.False(t, ok)
}

func TestAccessorsReturnCopies(t *testing.T) {
	d, err := Parse(sampleYAML)
	require.NoError(t, err)

	rs := d.Residents()
	rs[0].Name = "changed"
	assert.Equal(t, "Mrs. Priya Sharma", d.Residents()[0].Name)
}
