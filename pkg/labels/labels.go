// Package labels maps model output indices to bird species.
//
// The label table ships alongside the model asset as a text file, one
// species per line in the "Scientific name_Common name" convention used
// by BirdNET exports:
//
//	Hylocichla mustelina_Wood Thrush
//	Cardinalis cardinalis_Northern Cardinal
//
// Lines without an underscore are kept with the whole line as the
// common name, so plain common-name label files also load.
package labels

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Species is one label table row.
type Species struct {
	ScientificName string
	CommonName     string
}

// Table maps model output indices to species.
type Table struct {
	species []Species
}

// Parse reads a label table, one species per line. Blank lines and
// lines starting with '#' are skipped.
func Parse(r io.Reader) (*Table, error) {
	var species []Species
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sci, common, found := strings.Cut(line, "_")
		if !found {
			species = append(species, Species{CommonName: line})
			continue
		}
		species = append(species, Species{
			ScientificName: strings.TrimSpace(sci),
			CommonName:     strings.TrimSpace(common),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	if len(species) == 0 {
		return nil, fmt.Errorf("labels: empty label table")
	}
	return &Table{species: species}, nil
}

// ParseBytes parses an in-memory label table.
func ParseBytes(data []byte) (*Table, error) {
	return Parse(bytes.NewReader(data))
}

// Len returns the number of species in the table.
func (t *Table) Len() int { return len(t.species) }

// At returns the species for a model output index. Out-of-range indices
// return a placeholder so a model/label mismatch degrades instead of
// panicking.
func (t *Table) At(i int) Species {
	if i < 0 || i >= len(t.species) {
		return Species{CommonName: fmt.Sprintf("species %d", i)}
	}
	return t.species[i]
}
