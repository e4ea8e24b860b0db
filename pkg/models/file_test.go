package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLines(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"dedupes", []string{"A", "A", "B"}, []string{"A", "B"}},
		{"drops blanks", []string{"", "  ", "x"}, []string{"x"}},
		{"trims before dedupe", []string{" hello", "hello "}, []string{"hello"}},
		{"nil input", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLines(tt.in))
		})
	}
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusRegistered.Valid())
	assert.False(t, Status("pending").Valid())
	assert.True(t, StatusNotified.Terminal())
	assert.True(t, StatusFailureNotified.Terminal())
	assert.False(t, StatusExtracted.Terminal())
}

func TestFileRecordClone(t *testing.T) {
	rec := &FileRecord{FileID: "id", Text: []string{"a"}}
	c := rec.Clone()
	c.Text[0] = "b"
	assert.Equal(t, "a", rec.Text[0])
	assert.True(t, rec.HasText())

	var empty *FileRecord
	assert.False(t, empty.HasText())
	assert.Nil(t, empty.Clone())
}
