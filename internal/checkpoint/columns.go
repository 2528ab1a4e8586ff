package checkpoint

import (
	"slices"

	"github.com/antzucaro/matchr"

	"github.com/sells-group/taxid-cli/internal/textnorm"
)

// Field is one of the four canonical columns.
type Field int

const (
	FieldID Field = iota
	FieldTaxID
	FieldName
	FieldStatus
	numFields
)

// Canonical header labels written to the checkpoint.
var labels = [numFields]string{
	FieldID:     "CCCD",
	FieldTaxID:  "MST",
	FieldName:   "Tên",
	FieldStatus: "Trạng thái",
}

// Label returns the header label written for f.
func (f Field) Label() string {
	if f < 0 || f >= numFields {
		return ""
	}
	return labels[f]
}

// aliases are header spellings per field, in textnorm.Key form.
var aliases = [numFields][]string{
	FieldID: {
		"cccd", "socccd", "cancuoc", "cancuoccongdan", "cmnd", "socmnd",
		"cmndcccd", "cccdcmnd", "id", "nationalid", "citizenid",
	},
	FieldTaxID: {
		"mst", "masothue", "masothuecanhan", "taxid", "taxcode", "tin",
	},
	FieldName: {
		"ten", "hoten", "hovaten", "tennguoinopthue", "name", "fullname",
	},
	FieldStatus: {
		"trangthai", "tinhtrang", "status", "ketqua",
	},
}

const (
	// fuzzyThreshold is the minimum Jaro-Winkler similarity for a header
	// that matches no alias exactly.
	fuzzyThreshold = 0.97
	// fuzzyMaxLenDiff limits fuzzy matches to single-character typos, so
	// longer user headers such as "Trạng thái hồ sơ" keep their data.
	fuzzyMaxLenDiff = 1
	// fuzzyMinLen keeps short headers such as "stt" out of fuzzy matching.
	fuzzyMinLen = 4
)

// resolveColumns maps canonical fields to header positions, -1 when absent.
// Exact alias matches are taken first, then typo-level fuzzy ones; a column
// serves at most one field and the leftmost candidate wins.
func resolveColumns(header []string) [numFields]int {
	var idx [numFields]int
	for f := range idx {
		idx[f] = -1
	}
	keys := make([]string, len(header))
	used := make([]bool, len(header))
	for j, h := range header {
		keys[j] = textnorm.Key(h)
	}

	for j, key := range keys {
		for f := Field(0); f < numFields; f++ {
			if idx[f] == -1 && slices.Contains(aliases[f], key) {
				idx[f] = j
				used[j] = true
				break
			}
		}
	}

	for j, key := range keys {
		if used[j] || len(key) < fuzzyMinLen {
			continue
		}
		best, bestScore := Field(-1), 0.0
		for f := Field(0); f < numFields; f++ {
			if idx[f] != -1 {
				continue
			}
			for _, alias := range aliases[f] {
				if !typoDistance(key, alias) {
					continue
				}
				if score := matchr.JaroWinkler(key, alias, false); score >= fuzzyThreshold && score > bestScore {
					best, bestScore = f, score
				}
			}
		}
		if best >= 0 {
			idx[best] = j
			used[j] = true
		}
	}
	return idx
}

// typoDistance reports whether key is close enough in length to alias to be
// a misspelling of it rather than a different header.
func typoDistance(key, alias string) bool {
	if len(alias) < fuzzyMinLen {
		return false
	}
	d := len(key) - len(alias)
	return d >= -fuzzyMaxLenDiff && d <= fuzzyMaxLenDiff
}
