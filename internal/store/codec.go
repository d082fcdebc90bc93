package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/apexgrid/f1data/internal/model"
)

// Field maps are persisted as JSON. JSON flattens ints to float64 and
// timestamps to strings, so loading rehydrates the canonical Go types
// the pipeline works with.

func marshalFields(m map[string]any) ([]byte, error) {
	b, err := json.Marshal(m)
	return b, eris.Wrap(err, "store: marshal fields")
}

func unmarshalFields(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal fields")
	}
	for k, v := range m {
		m[k] = rehydrate(v)
	}
	return m, nil
}

func marshalProvenance(p map[string]model.FieldProvenance) ([]byte, error) {
	b, err := json.Marshal(p)
	return b, eris.Wrap(err, "store: marshal provenance")
}

func unmarshalProvenance(b []byte) (map[string]model.FieldProvenance, error) {
	var p map[string]model.FieldProvenance
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal provenance")
	}
	for field, fp := range p {
		fp.Winner.Value = rehydrate(fp.Winner.Value)
		for i := range fp.Attempts {
			fp.Attempts[i].Value = rehydrate(fp.Attempts[i].Value)
		}
		p[field] = fp
	}
	return p, nil
}

func rehydrate(v any) any {
	switch t := v.(type) {
	case float64:
		if t == float64(int(t)) {
			return int(t)
		}
		return t
	case string:
		if looksLikeTimestamp(t) {
			if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return ts.UTC()
			}
		}
		return t
	default:
		return v
	}
}

func looksLikeTimestamp(s string) bool {
	return len(s) >= 20 && s[4] == '-' && s[7] == '-' && s[10] == 'T'
}
