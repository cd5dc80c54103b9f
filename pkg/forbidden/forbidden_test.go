package forbidden_test

import (
	"testing"

	"github.com/peycheff/crewledger/pkg/forbidden"
	"github.com/stretchr/testify/assert"
)

func TestIsForbidden(t *testing.T) {
	assert.True(t, forbidden.IsForbidden(forbidden.KindDeleteItem))
	assert.True(t, forbidden.IsForbidden(forbidden.KindUpdateTotal))
	assert.True(t, forbidden.IsForbidden(forbidden.KindMassReplace))
	assert.False(t, forbidden.IsForbidden("add_note"))
}

func TestCheckAll_NoPartialApply(t *testing.T) {
	kinds := []forbidden.Kind{"add_note", forbidden.KindUpdateTotal, "reassign_worker"}
	first, ok := forbidden.CheckAll(kinds)
	assert.False(t, ok)
	assert.Equal(t, forbidden.KindUpdateTotal, first)
}

func TestCheckAll_AllClean(t *testing.T) {
	kinds := []forbidden.Kind{"add_note", "reassign_worker"}
	_, ok := forbidden.CheckAll(kinds)
	assert.True(t, ok)
}
