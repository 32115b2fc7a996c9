// Package snapshot turns the loosely typed state bundle pushed by the game
// client into typed facets. A facet that cannot be parsed is treated as absent.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Facet string

const (
	FacetSkills        Facet = "skills"
	FacetStats         Facet = "stats"
	FacetCollectionLog Facet = "collection_log"
	FacetQuests        Facet = "quests"
	FacetDiaryVars     Facet = "diary_vars"
)

// Raw holds each facet exactly as the client sent it: either a JSON document
// or a JSON string that itself contains the serialized document.
type Raw struct {
	Skills        json.RawMessage `json:"skills,omitempty"`
	Stats         json.RawMessage `json:"stats,omitempty"`
	CollectionLog json.RawMessage `json:"collection_log,omitempty"`
	Quests        json.RawMessage `json:"quests,omitempty"`
	DiaryVars     json.RawMessage `json:"diary_vars,omitempty"`
}

type Skill struct {
	Level int64
	XP    int64
}

type CollectionEntry struct {
	Obtained int64
	Total    int64
}

// Snapshot is the parsed bundle. A nil map means the facet is absent.
type Snapshot struct {
	Skills        map[string]Skill
	Stats         map[string]int64
	CollectionLog map[string]CollectionEntry
	Quests        map[string]string
	DiaryVars     map[string]bool
}

// FacetError records a facet dropped during parsing.
type FacetError struct {
	Facet Facet
	Err   error
}

func (e FacetError) Error() string {
	return fmt.Sprintf("facet %s: %v", e.Facet, e.Err)
}

var errNotObject = errors.New("facet is not a JSON object")

// Parse decodes every facet independently. It never fails as a whole; facets
// that could not be decoded are absent in the result and listed in the errors.
func Parse(raw Raw) (Snapshot, []FacetError) {
	var (
		snap Snapshot
		errs []FacetError
	)
	fail := func(f Facet, err error) {
		errs = append(errs, FacetError{Facet: f, Err: err})
	}

	if obj, err := decodeObject(raw.Skills); err != nil {
		fail(FacetSkills, err)
	} else if obj != nil {
		snap.Skills = parseSkills(obj)
	}

	if obj, err := decodeObject(raw.Stats); err != nil {
		fail(FacetStats, err)
	} else if obj != nil {
		snap.Stats = make(map[string]int64, len(obj))
		for name, v := range obj {
			if n, ok := asInt(v); ok {
				snap.Stats[name] = n
			}
		}
	}

	if obj, err := decodeObject(raw.CollectionLog); err != nil {
		fail(FacetCollectionLog, err)
	} else if obj != nil {
		snap.CollectionLog = parseCollectionLog(obj)
	}

	if obj, err := decodeObject(raw.Quests); err != nil {
		fail(FacetQuests, err)
	} else if obj != nil {
		snap.Quests = make(map[string]string, len(obj))
		for name, v := range obj {
			var status string
			if json.Unmarshal(v, &status) == nil {
				snap.Quests[name] = status
			}
		}
	}

	if obj, err := decodeObject(raw.DiaryVars); err != nil {
		fail(FacetDiaryVars, err)
	} else if obj != nil {
		snap.DiaryVars = make(map[string]bool, len(obj))
		for key, v := range obj {
			var done bool
			if json.Unmarshal(v, &done) == nil {
				snap.DiaryVars[key] = done
			}
		}
	}

	return snap, errs
}

// parseSkills keeps only entries that carry an integer level.
func parseSkills(obj map[string]json.RawMessage) map[string]Skill {
	skills := make(map[string]Skill, len(obj))
	for name, v := range obj {
		var entry map[string]json.RawMessage
		if json.Unmarshal(v, &entry) != nil {
			continue
		}
		level, ok := asInt(entry["level"])
		if !ok {
			continue
		}
		xp, _ := asInt(entry["xp"])
		skills[name] = Skill{Level: level, XP: xp}
	}
	return skills
}

// parseCollectionLog defaults a missing obtained count to 0 and a missing
// total to 1, so a malformed entry reads as 0% instead of dividing by zero.
func parseCollectionLog(obj map[string]json.RawMessage) map[string]CollectionEntry {
	log := make(map[string]CollectionEntry, len(obj))
	for name, v := range obj {
		entry := CollectionEntry{Total: 1}
		var fields map[string]json.RawMessage
		if json.Unmarshal(v, &fields) == nil {
			if n, ok := asInt(fields["obtained_count"]); ok {
				entry.Obtained = n
			}
			if n, ok := asInt(fields["total_count"]); ok {
				entry.Total = n
			}
		}
		log[name] = entry
	}
	return log
}

// decodeObject returns (nil, nil) for an absent facet.
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, err
		}
		data = bytes.TrimSpace([]byte(inner))
		if len(data) == 0 {
			return nil, nil
		}
	}

	if data[0] != '{' {
		return nil, errNotObject
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// asInt accepts only JSON integer literals; quoted numbers do not count.
func asInt(v json.RawMessage) (int64, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || v[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}
