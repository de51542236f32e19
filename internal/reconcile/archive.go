package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each run's reports as one JSON object keyed by run time.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

func NewS3Archiver(client PutObjectAPI, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: "reconcile", now: time.Now}
}

func (a *S3Archiver) Key(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, at.Format("2006/01/02"), at.Format("150405.000000000"))
}

func (a *S3Archiver) Archive(ctx context.Context, reports []*Report) (string, error) {
	body, err := json.Marshal(reports)
	if err != nil {
		return "", fmt.Errorf("failed to encode reconciliation reports: %w", err)
	}

	key := a.Key(a.now())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload reconciliation reports to s3://%s/%s: %w", a.bucket, key, err)
	}

	return key, nil
}
