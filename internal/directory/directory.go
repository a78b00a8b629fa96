// Package directory holds the read-only resident, staff and society records
// the desk resolves incidents against.
package directory

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sample.yaml
var sampleYAML []byte

// EmergencyContact is someone to call for a resident besides the NOK.
type EmergencyContact struct {
	Name     string `yaml:"name" json:"name"`
	Relation string `yaml:"relation" json:"relation"`
	Phone    string `yaml:"phone" json:"phone"`
}

// Device is an alarm device installed in a flat.
type Device struct {
	Tag  string `yaml:"tag" json:"tag"`
	Kind string `yaml:"kind" json:"kind"`
}

// Resident is a directory entry for a person living in the society.
type Resident struct {
	ID                string             `yaml:"id" json:"id"`
	Name              string             `yaml:"name" json:"name"`
	FlatNumber        string             `yaml:"flat" json:"flatNumber"`
	PhoneNumber       string             `yaml:"phone" json:"phoneNumber"`
	NOKPhone          string             `yaml:"nok_phone" json:"nokPhone"`
	Status            string             `yaml:"status" json:"status"`
	EmergencyContacts []EmergencyContact `yaml:"emergency_contacts" json:"emergencyContacts"`
	Devices           []Device           `yaml:"devices" json:"devices"`
}

// Active reports whether the resident is currently active. Entries without a
// status count as active so hand-written directories can omit the field.
func (r Resident) Active() bool {
	return r.Status == "" || strings.EqualFold(r.Status, "active")
}

// Inactive reports whether the resident is explicitly marked inactive. Any
// other status (e.g. "suspended") is neither active nor inactive.
func (r Resident) Inactive() bool {
	return strings.EqualFold(r.Status, "inactive")
}

// Staff is a directory entry for society staff who attend incidents.
type Staff struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Role        string `yaml:"role" json:"role"`
	PhoneNumber string `yaml:"phone" json:"phoneNumber"`
	Shift       string `yaml:"shift" json:"shift"`
	Status      string `yaml:"status" json:"status"`
}

// Society is the society profile.
type Society struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Address     string `yaml:"address" json:"address"`
	Phone       string `yaml:"phone" json:"phone"`
	Email       string `yaml:"email" json:"email"`
	Established int    `yaml:"established" json:"established"`
}

// ResidentStats summarises the resident directory.
type ResidentStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

type file struct {
	Society   Society    `yaml:"society"`
	Residents []Resident `yaml:"residents"`
	Staff     []Staff    `yaml:"staff"`
}

// Directory is an immutable, indexed view of the directory file.
// It is safe for concurrent use.
type Directory struct {
	society   Society
	residents []Resident
	staff     []Staff

	byFlat   map[string]int
	byDevice map[string]int
}

// Load reads a directory YAML file. An empty path or a missing file yields the
// built-in sample directory.
func Load(path string) (*Directory, error) {
	if path == "" {
		return Parse(sampleYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Parse(sampleYAML)
		}
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing directory %s: %w", path, err)
	}
	return d, nil
}

// Parse builds a Directory from YAML bytes.
func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	d := &Directory{
		society:   f.Society,
		residents: f.Residents,
		staff:     f.Staff,
		byFlat:    make(map[string]int, len(f.Residents)),
		byDevice:  make(map[string]int),
	}
	for i, r := range f.Residents {
		if r.FlatNumber == "" {
			return nil, fmt.Errorf("resident %q has no flat", r.Name)
		}
		key := normalizeFlat(r.FlatNumber)
		// First active resident of a flat is its primary contact.
		if prev, ok := d.byFlat[key]; !ok || (!f.Residents[prev].Active() && r.Active()) {
			d.byFlat[key] = i
		}
		for _, dev := range r.Devices {
			if dev.Tag == "" {
				continue
			}
			if other, ok := d.byDevice[dev.Tag]; ok {
				return nil, fmt.Errorf("device %q assigned to both %s and %s",
					dev.Tag, f.Residents[other].FlatNumber, r.FlatNumber)
			}
			d.byDevice[dev.Tag] = i
		}
	}
	return d, nil
}

// Society returns the society profile.
func (d *Directory) Society() Society {
	return d.society
}

// Residents returns a copy of all residents in file order.
func (d *Directory) Residents() []Resident {
	return append([]Resident(nil), d.residents...)
}

// Staff returns a copy of all staff in file order.
func (d *Directory) Staff() []Staff {
	return append([]Staff(nil), d.staff...)
}

// SearchResidents returns residents whose name or flat number contains term,
// case-insensitively. An empty term returns everyone. Order is preserved.
func (d *Directory) SearchResidents(term string) []Resident {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]Resident, 0, len(d.residents))
	for _, r := range d.residents {
		if term == "" ||
			strings.Contains(strings.ToLower(r.Name), term) ||
			strings.Contains(strings.ToLower(r.FlatNumber), term) {
			out = append(out, r)
		}
	}
	return out
}

// ResidentStats counts residents by status.
func (d *Directory) ResidentStats() ResidentStats {
	s := ResidentStats{Total: len(d.residents)}
	for _, r := range d.residents {
		switch {
		case r.Active():
			s.Active++
		case r.Inactive():
			s.Inactive++
		}
	}
	return s
}

// ResidentByFlat returns the primary resident of a flat.
func (d *Directory) ResidentByFlat(flat string) (Resident, bool) {
	i, ok := d.byFlat[normalizeFlat(flat)]
	if !ok {
		return Resident{}, false
	}
	return d.residents[i], true
}

// ResidentByDevice returns the resident a device tag is registered to.
func (d *Directory) ResidentByDevice(tag string) (Resident, bool) {
	i, ok := d.byDevice[tag]
	if !ok {
		return Resident{}, false
	}
	return d.residents[i], true
}

func normalizeFlat(flat string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(flat), " ", ""))
}
