package models

import (
	"fmt"
	"regexp"
)

// Message type discriminators. These are part of the durable wire contract
// between workers and must remain stable across versions.
const (
	TypeSubmission = "submission_message"
	TypeArchive    = "archive_message"
	TypeRestore    = "restore_message"
)

// ActionArchiveRetrieval marks a cold-tier retrieval completion
// notification.
const ActionArchiveRetrieval = "ArchiveRetrieval"

// A SubmissionMessage asks an annotation worker to run a newly submitted
// job.
type SubmissionMessage struct {
	MessageType string `json:"message_type"`
	JobID       string `json:"job_id"`
	UserID      string `json:"user_id"`
	InputRef    string `json:"input_ref"`
}

// An ArchiveMessage marks a completed job as eligible for cold-tier
// archival.
type ArchiveMessage struct {
	MessageType string `json:"message_type"`
	JobID       string `json:"job_id"`
	UserID      string `json:"user_id"`
}

// A RestoreMessage asks for all of a user's archived jobs to be brought
// back to hot storage.
type RestoreMessage struct {
	MessageType string `json:"message_type"`
	UserID      string `json:"user_id"`
}

// A RetrievalNotification reports the outcome of an asynchronous cold-tier
// retrieval. JobID and UserID are echoed verbatim from the retrieval
// request; JobDescription carries the same pair in the legacy free-text
// format for notifiers that cannot echo structured attributes.
type RetrievalNotification struct {
	Action         string `json:"Action"`
	StatusCode     string `json:"StatusCode"`
	RetrievalID    string `json:"JobId"`
	ArchiveID      string `json:"ArchiveId"`
	JobDescription string `json:"JobDescription,omitempty"`
	JobID          string `json:"job_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

var descriptionPattern = regexp.MustCompile(`user_id: ([\w-]+), job_id: ([\w-]+)`)

// FormatJobDescription renders the legacy correlation string attached to
// cold-tier retrieval requests.
func FormatJobDescription(userID, jobID string) string {
	return fmt.Sprintf("user_id: %s, job_id: %s", userID, jobID)
}

// ParseJobDescription extracts the user and job ids from a legacy
// description string. Used only when a notification arrives without the
// structured job_id/user_id attributes.
func ParseJobDescription(desc string) (userID, jobID string, err error) {
	matches := descriptionPattern.FindStringSubmatch(desc)
	if matches == nil {
		return "", "", fmt.Errorf("models: no user or job id found in description %q", desc)
	}
	return matches[1], matches[2], nil
}
