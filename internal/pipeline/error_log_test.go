package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorLog(t *testing.T) {
	tests := []struct {
		name  string
		added []string
		want  []string
	}{
		{name: "empty", want: nil},
		{name: "under the cap", added: []string{"a", "b"}, want: []string{"a", "b"}},
		{
			name:  "truncates long messages",
			added: []string{strings.Repeat("é", MaxErrorLength+20)},
			want:  []string{strings.Repeat("é", MaxErrorLength)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l errorLog
			for _, m := range tt.added {
				l.add(m)
			}
			assert.Equal(t, tt.want, l.lines())
		})
	}
}

func TestErrorLog_Overflow(t *testing.T) {
	var l errorLog
	for i := 0; i < MaxErrors+3; i++ {
		l.add("failed")
	}
	lines := l.lines()
	assert.Len(t, lines, MaxErrors+1)
	assert.Equal(t, "... and 3 more errors", lines[MaxErrors])
}

func TestResultSummary(t *testing.T) {
	r := &Result{Kind: "table", Source: "customers", SuccessCount: 3, FailCount: 1, Errors: []string{"x", "y"}}
	assert.Equal(t, "Table sync complete for customers: 3 records succeeded, 1 failed.\nx\ny", r.summary())

	r = &Result{Kind: "stream", Source: "s"}
	assert.Equal(t, "Stream sync complete for s: 0 records succeeded, 0 failed.", r.summary())
	assert.Equal(t, State(""), r.FinalState())
}
