package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xiaotiantakumi/receiptfly/internal/blob"
)

// Job describes one document to ingest. It is created at enqueue time and never mutated.
type Job struct {
	JobID            string        `json:"jobId"`
	DocumentLocation blob.Location `json:"documentLocation"`
	CreatedAt        time.Time     `json:"createdAt"`
	AccountTitles    []string      `json:"allowedAccountTitles,omitempty"`
	Categories       []string      `json:"allowedCategories,omitempty"`
	OriginalFileName string        `json:"originalFileName,omitempty"`
}

// Validate checks the fields a worker needs to act on the job
func (j Job) Validate() error {
	if strings.TrimSpace(j.JobID) == "" {
		return errors.New("job id is empty")
	}
	if err := j.DocumentLocation.Validate(); err != nil {
		return fmt.Errorf("document location: %w", err)
	}
	return nil
}
