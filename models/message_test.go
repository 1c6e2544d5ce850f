package models

import (
	"encoding/json"
	"testing"
)

func TestFormatParseJobDescription(t *testing.T) {
	desc := FormatJobDescription("usr_a1b2", "job_c3-d4")
	userID, jobID, err := ParseJobDescription(desc)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "usr_a1b2" {
		t.Errorf("expected user usr_a1b2, got %s", userID)
	}
	if jobID != "job_c3-d4" {
		t.Errorf("expected job job_c3-d4, got %s", jobID)
	}
}

func TestParseJobDescriptionGarbage(t *testing.T) {
	for _, desc := range []string{"", "restore my stuff", "user_id: , job_id: "} {
		if _, _, err := ParseJobDescription(desc); err == nil {
			t.Errorf("expected an error parsing %q", desc)
		}
	}
}

func TestRetrievalNotificationRoundTrip(t *testing.T) {
	n := RetrievalNotification{
		Action:      ActionArchiveRetrieval,
		StatusCode:  "Succeeded",
		RetrievalID: "retrieval-9",
		ArchiveID:   "A1",
		JobID:       "J1",
		UserID:      "U1",
	}
	bits, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	var got RetrievalNotification
	if err := json.Unmarshal(bits, &got); err != nil {
		t.Fatal(err)
	}
	if got != n {
		t.Errorf("expected %#v, got %#v", n, got)
	}
	// The retrieval handle marshals under the cold tier's field name.
	var raw map[string]interface{}
	if err := json.Unmarshal(bits, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["JobId"] != "retrieval-9" {
		t.Errorf("expected JobId field to carry the retrieval handle, got %v", raw["JobId"])
	}
}
