package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	glaciertypes "github.com/aws/aws-sdk-go-v2/service/glacier/types"
	"github.com/QixShawnChen/cloud-gene-annotation/models"
)

// RetrievalStatus is the state of an asynchronous cold-tier retrieval.
type RetrievalStatus string

const (
	RetrievalInProgress = RetrievalStatus("InProgress")
	RetrievalSucceeded  = RetrievalStatus("Succeeded")
	RetrievalFailed     = RetrievalStatus("Failed")
)

// Correlation identifies the job a retrieval request belongs to. The
// cold tier echoes it back verbatim in the completion notification, so the
// thaw worker never has to reconstruct context from opaque handles.
type Correlation struct {
	JobID  string
	UserID string
}

// ColdStore is the archival tier. Archive must be safe to repeat for the
// same bytes: a redelivered archival message may upload the same result
// twice, producing two archives of which only one is ever recorded.
type ColdStore interface {
	Archive(ctx context.Context, body []byte) (archiveID string, err error)
	InitiateRetrieval(ctx context.Context, archiveID string, c Correlation) (retrievalID string, err error)
	CheckStatus(ctx context.Context, retrievalID string) (RetrievalStatus, error)
	Fetch(ctx context.Context, retrievalID string) ([]byte, error)
	DeleteArchive(ctx context.Context, archiveID string) error
}

// GlacierConfig configures the Glacier-backed cold store.
type GlacierConfig struct {
	Region    string
	VaultName string
	AccountID string
	// NotifyTopic is where Glacier publishes retrieval-completion
	// notifications. A bridge drains that topic into the thaw queue.
	NotifyTopic string
}

// GlacierStore implements ColdStore on an Amazon Glacier vault.
type GlacierStore struct {
	client      *glacier.Client
	vault       string
	accountID   string
	notifyTopic string
}

// NewGlacierStore creates a cold-tier client for the configured vault.
func NewGlacierStore(ctx context.Context, cfg GlacierConfig) (*GlacierStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS config: %w", err)
	}
	accountID := cfg.AccountID
	if accountID == "" {
		// "-" means the account owning the credentials
		accountID = "-"
	}
	return &GlacierStore{
		client:      glacier.NewFromConfig(awsCfg),
		vault:       cfg.VaultName,
		accountID:   accountID,
		notifyTopic: cfg.NotifyTopic,
	}, nil
}

func (g *GlacierStore) Archive(ctx context.Context, body []byte) (string, error) {
	out, err := g.client.UploadArchive(ctx, &glacier.UploadArchiveInput{
		AccountId: aws.String(g.accountID),
		VaultName: aws.String(g.vault),
		Body:      bytes.NewReader(body),
	})
	if err != nil {
		return "", fmt.Errorf("storage: archive upload: %w", err)
	}
	return aws.ToString(out.ArchiveId), nil
}

func (g *GlacierStore) InitiateRetrieval(ctx context.Context, archiveID string, c Correlation) (string, error) {
	out, err := g.client.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId: aws.String(g.accountID),
		VaultName: aws.String(g.vault),
		JobParameters: &glaciertypes.JobParameters{
			Type:        aws.String("archive-retrieval"),
			ArchiveId:   aws.String(archiveID),
			Description: aws.String(models.FormatJobDescription(c.UserID, c.JobID)),
			SNSTopic:    aws.String(g.notifyTopic),
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: initiate retrieval for %s: %w", archiveID, err)
	}
	return aws.ToString(out.JobId), nil
}

func (g *GlacierStore) CheckStatus(ctx context.Context, retrievalID string) (RetrievalStatus, error) {
	out, err := g.client.DescribeJob(ctx, &glacier.DescribeJobInput{
		AccountId: aws.String(g.accountID),
		VaultName: aws.String(g.vault),
		JobId:     aws.String(retrievalID),
	})
	if err != nil {
		return "", fmt.Errorf("storage: describe retrieval %s: %w", retrievalID, err)
	}
	return RetrievalStatus(out.StatusCode), nil
}

func (g *GlacierStore) Fetch(ctx context.Context, retrievalID string) ([]byte, error) {
	out, err := g.client.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String(g.accountID),
		VaultName: aws.String(g.vault),
		JobId:     aws.String(retrievalID),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: fetch retrieval %s: %w", retrievalID, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (g *GlacierStore) DeleteArchive(ctx context.Context, archiveID string) error {
	_, err := g.client.DeleteArchive(ctx, &glacier.DeleteArchiveInput{
		AccountId: aws.String(g.accountID),
		VaultName: aws.String(g.vault),
		ArchiveId: aws.String(archiveID),
	})
	if err != nil {
		return fmt.Errorf("storage: delete archive %s: %w", archiveID, err)
	}
	return nil
}
