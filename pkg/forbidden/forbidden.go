// Package forbidden implements CrewLedger's two-layer forbidden-
// operation guard: invoice suggestions of kind
// delete_item, update_total, or mass_replace are denied both when a
// Suggestion is first proposed and, defensively, again when
// suggestions are applied.
package forbidden

// Kind identifies a suggestion operation kind.
type Kind string

// Forbidden kinds, denied at both layers.
const (
	KindDeleteItem  Kind = "delete_item"
	KindUpdateTotal Kind = "update_total"
	KindMassReplace Kind = "mass_replace"
)

var forbiddenSet = map[Kind]bool{
	KindDeleteItem:  true,
	KindUpdateTotal: true,
	KindMassReplace: true,
}

// IsForbidden reports whether kind is one of the forbidden operations.
func IsForbidden(kind Kind) bool {
	return forbiddenSet[kind]
}

// CheckAll scans a batch of kinds (e.g. the suggestions referenced by
// an apply_suggestions call) and returns the first forbidden kind
// found. Apply-suggestions uses this to detect whether any kind in the
// batch is forbidden; the whole batch must then be rejected with no
// partial apply.
func CheckAll(kinds []Kind) (firstForbidden Kind, ok bool) {
	for _, k := range kinds {
		if IsForbidden(k) {
			return k, false
		}
	}
	return "", true
}
