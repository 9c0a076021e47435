package autosave

import (
	"encoding/json"
	"reflect"

	"github.com/kerrin-hs/gapday/core/internal/models"
)

// serverFields is the set of JSON keys eligible for outgoing diffs,
// derived from the ServerPrefs type so the server/local partition
// cannot drift from the schema.
var serverFields = func() map[string]struct{} {
	m, err := normalize(models.ServerPrefs{})
	if err != nil {
		panic(err)
	}
	set := make(map[string]struct{}, len(m))
	for k := range m {
		set[k] = struct{}{}
	}
	return set
}()

// normalize flattens a struct into its JSON field map, so field
// comparison is independent of Go-level representation details.
func normalize(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// normalizeFull flattens the whole preferences document, server and
// local fields together, without the version token or timestamps.
func normalizeFull(p *models.UserPreferences) (map[string]interface{}, error) {
	server, err := normalize(p.ServerPrefs)
	if err != nil {
		return nil, err
	}
	local, err := normalize(p.LocalPrefs)
	if err != nil {
		return nil, err
	}
	for k, v := range local {
		server[k] = v
	}
	return server, nil
}

// diffFields returns the fields of current that differ from canonical.
// A field present in canonical but absent from current diffs to nil.
func diffFields(canonical, current map[string]interface{}) map[string]interface{} {
	diff := make(map[string]interface{})
	for k, v := range current {
		if !reflect.DeepEqual(canonical[k], v) {
			diff[k] = v
		}
	}
	for k := range canonical {
		if _, ok := current[k]; !ok {
			diff[k] = nil
		}
	}
	return diff
}

// filterServerEligible strips local-only fields from a diff. Only
// fields declared on ServerPrefs may leave the device.
func filterServerEligible(diff map[string]interface{}) map[string]interface{} {
	filtered := make(map[string]interface{}, len(diff))
	for k, v := range diff {
		if _, ok := serverFields[k]; ok {
			filtered[k] = v
		}
	}
	return filtered
}

// mergeDiff overlays extra onto base, returning a new map.
func mergeDiff(base, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
