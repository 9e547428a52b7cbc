package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidators(t *testing.T) {
	status := EnumValidator("RUNNING", "FAILED")
	assert.NoError(t, status("RUNNING"))
	assert.ErrorContains(t, status("DONE"), "RUNNING, FAILED")

	assert.NoError(t, MaxRunes(3)("héé"))
	assert.Error(t, MaxRunes(3)("abcd"))

	assert.Error(t, NonBlank(" \t"))
	assert.NoError(t, NonBlank("x"))

	assert.NoError(t, JSONArray(""))
	assert.NoError(t, JSONArray(`[{"a":1}]`))
	assert.Error(t, JSONArray(`{"a":1}`))
}
