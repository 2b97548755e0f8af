package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractExecutionID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"top-level prompt_id", `{"prompt_id":"abc123"}`, "abc123", true},
		{"top-level execution_id", `{"execution_id":"exec-9"}`, "exec-9", true},
		{"alternate key id", `{"id":"x1"}`, "x1", true},
		{"alternate key task_id", `{"task_id":"t-44"}`, "t-44", true},
		{"alternate key job_id", `{"job_id":"j7"}`, "j7", true},
		{"nested under data", `{"data":{"execution_id":"nested-1"}}`, "nested-1", true},
		{"nested alternate key", `{"data":{"job_id":"nested-2"}}`, "nested-2", true},
		{"numeric id", `{"prompt_id":42}`, "42", true},
		{"priority: prompt_id over id", `{"id":"lower","prompt_id":"higher"}`, "higher", true},
		{"top level wins over nested", `{"id":"top","data":{"prompt_id":"nested"}}`, "top", true},
		{"no id anywhere", `{"status":"ok"}`, "", false},
		{"empty string id skipped", `{"prompt_id":""}`, "", false},
		{"not an object", `[1,2,3]`, "", false},
		{"malformed json", `{"prompt_id":`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractExecutionID([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
