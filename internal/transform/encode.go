package transform

import (
	"sort"

	"github.com/propedge/propedge/internal/domain"
)

// UnknownCode is the reserved label code for categories unseen at fit time
const UnknownCode = -1

// encodeFit assigns label codes to ordinal categoricals and dummy columns to
// one-hot categoricals, recording the mappings for transform-only reuse.
func (f *Fitted) encodeFit(t *domain.FeatureTable) error {
	for _, name := range f.cfg.OrdinalColumns {
		col, ok := t.Column(name)
		if !ok || col.Kind != domain.KindCategorical {
			continue
		}
		mapping := buildMapping(col.Str)
		f.encodings[name] = mapping
		if err := t.AddNumeric(name+EncodedSuffix, encodeLabels(col.Str, mapping)); err != nil {
			return err
		}
	}

	for _, name := range f.cfg.OneHotColumns {
		col, ok := t.Column(name)
		if !ok || col.Kind != domain.KindCategorical {
			continue
		}
		cats := sortedCategories(col.Str)
		f.oneHotCats[name] = cats
		if err := addDummies(t, name, col.Str, cats); err != nil {
			return err
		}
	}
	return nil
}

// encodeApply replays the fitted mappings. Unseen categories take UnknownCode;
// unseen one-hot categories leave all dummies at zero.
func (f *Fitted) encodeApply(t *domain.FeatureTable) error {
	for name, mapping := range f.encodings {
		col, ok := t.Column(name)
		if !ok || col.Kind != domain.KindCategorical {
			continue
		}
		if err := t.AddNumeric(name+EncodedSuffix, encodeLabels(col.Str, mapping)); err != nil {
			return err
		}
	}
	for name, cats := range f.oneHotCats {
		col, ok := t.Column(name)
		if !ok || col.Kind != domain.KindCategorical {
			continue
		}
		if err := addDummies(t, name, col.Str, cats); err != nil {
			return err
		}
	}
	return nil
}

// Encodings exposes the fitted category to code mapping per ordinal column
func (f *Fitted) Encodings() map[string]map[string]int {
	out := make(map[string]map[string]int, len(f.encodings))
	for name, m := range f.encodings {
		copied := make(map[string]int, len(m))
		for k, v := range m {
			copied[k] = v
		}
		out[name] = copied
	}
	return out
}

func buildMapping(vals []string) map[string]int {
	cats := sortedCategories(vals)
	mapping := make(map[string]int, len(cats))
	for i, c := range cats {
		mapping[c] = i
	}
	return mapping
}

func sortedCategories(vals []string) []string {
	seen := make(map[string]struct{})
	for _, v := range vals {
		if v == "" {
			continue
		}
		seen[v] = struct{}{}
	}
	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func encodeLabels(vals []string, mapping map[string]int) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if code, ok := mapping[v]; ok {
			out[i] = float64(code)
		} else {
			out[i] = UnknownCode
		}
	}
	return out
}

func addDummies(t *domain.FeatureTable, name string, vals []string, cats []string) error {
	for _, cat := range cats {
		dummy := make([]float64, len(vals))
		for i, v := range vals {
			if v == cat {
				dummy[i] = 1
			}
		}
		if err := t.AddNumeric(name+"_"+cat, dummy); err != nil {
			return err
		}
	}
	return nil
}
