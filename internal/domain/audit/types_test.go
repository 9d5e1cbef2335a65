package audit

import "testing"

func TestRedactSensitiveArgs(t *testing.T) {
	args := map[string]interface{}{
		"query":    "select 1",
		"Password": "hunter2",
		"config": map[string]interface{}{
			"api_key": "k",
			"region":  "eu",
		},
	}

	got := RedactSensitiveArgs(args)

	if got["query"] != "select 1" {
		t.Errorf("query = %v, want unchanged", got["query"])
	}
	if got["Password"] != redactedValue {
		t.Errorf("Password = %v, want redacted", got["Password"])
	}
	nested := got["config"].(map[string]interface{})
	if nested["api_key"] != redactedValue || nested["region"] != "eu" {
		t.Errorf("nested = %v", nested)
	}
	if args["Password"] != "hunter2" {
		t.Error("input map was modified")
	}
}

func TestRedactSensitiveArgs_Empty(t *testing.T) {
	if got := RedactSensitiveArgs(nil); got != nil {
		t.Errorf("RedactSensitiveArgs(nil) = %v, want nil", got)
	}
}
