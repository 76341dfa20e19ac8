package executor

import (
	"encoding/json"
	"testing"
)

func TestBuildStatusMarshalUnsetIsNull(t *testing.T) {
	data, err := json.Marshal(BuildResult{Status: StatusUnset, Data: map[string]any{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["result"] != nil {
		t.Errorf("expected null result, got %v", decoded["result"])
	}
}

func TestBuildStatusRoundTrip(t *testing.T) {
	statuses := []BuildStatus{
		StatusSuccess, StatusFailure, StatusPostFailure,
		StatusTimedOut, StatusAborted, StatusMergerFailure, StatusError,
	}
	for _, status := range statuses {
		data, err := json.Marshal(status)
		if err != nil {
			t.Fatalf("marshal %v: %v", status, err)
		}
		var back BuildStatus
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != status {
			t.Errorf("round trip %v came back %v", status, back)
		}
	}
}

func TestBuildStatusUnmarshalUnknown(t *testing.T) {
	var status BuildStatus
	if err := json.Unmarshal([]byte(`"EXPLODED"`), &status); err == nil {
		t.Error("expected error for unknown status name")
	}
}

func TestFatalErrorDetection(t *testing.T) {
	err := Fatalf("playbook %s not found", "run")
	if !IsFatal(err) {
		t.Error("Fatalf result not detected as fatal")
	}
	if IsFatal(json.Unmarshal([]byte("{"), &struct{}{})) {
		t.Error("ordinary error detected as fatal")
	}
}
