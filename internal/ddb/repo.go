// Package ddb persists waitlist entries and application records in a single DynamoDB table.
package ddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kylejryan/applicant-upload-portal/internal/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultEmailIndex is the GSI on "email" used to list applications.
const DefaultEmailIndex = "email-index"

// ErrDuplicate is returned when a conditional put finds an existing item.
var ErrDuplicate = errors.New("item already exists")

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Repo wraps a DynamoDB client and table name.
type Repo struct {
	DB         API
	Table      string
	EmailIndex string
}

// PutWaitlist inserts an entry, refusing to overwrite an existing one.
func (r *Repo) PutWaitlist(ctx context.Context, e models.WaitlistEntry) error {
	if e.PK == "" {
		e.PK, e.SK = WaitlistKeys(e.ID)
	}
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return err
	}
	_, err = r.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.Table,
		Item:                item,
		ConditionExpression: awsStr("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	return conditional(err)
}

// SubmitApplication records the applicant's confirmation. Attributes set by
// the indexer (size, etag, uploaded_at) are left alone.
func (r *Repo) SubmitApplication(ctx context.Context, a models.Application) error {
	pk, sk := ApplicationKeys(a.S3Key)
	values, err := attributevalue.MarshalMap(map[string]any{
		":email":     a.Email,
		":filename":  a.Filename,
		":ct":        a.ContentType,
		":declared":  a.DeclaredSize,
		":key":       a.S3Key,
		":status":    models.StatusSubmitted,
		":submitted": a.SubmittedAt,
	})
	if err != nil {
		return err
	}
	_, err = r.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &r.Table,
		Key:       itemKey(pk, sk),
		UpdateExpression: awsStr("SET email = :email, filename = :filename, content_type = :ct, " +
			"declared_size = :declared, s3_key = :key, #status = :status, submitted_at = :submitted"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	return err
}

// MarkUploaded stores what S3 reports about an uploaded object. A record that
// was already submitted keeps its status.
func (r *Repo) MarkUploaded(ctx context.Context, s3Key string, size int64, etag, uploadedAt string) error {
	pk, sk := ApplicationKeys(s3Key)
	values, err := attributevalue.MarshalMap(map[string]any{
		":key":      s3Key,
		":size":     size,
		":etag":     etag,
		":uploaded": uploadedAt,
		":status":   models.StatusUploaded,
	})
	if err != nil {
		return err
	}
	_, err = r.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &r.Table,
		Key:       itemKey(pk, sk),
		UpdateExpression: awsStr("SET s3_key = :key, size_bytes = :size, etag = :etag, " +
			"uploaded_at = :uploaded, #status = if_not_exists(#status, :status)"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	return err
}

// ListByEmail returns every application submitted under email.
func (r *Repo) ListByEmail(ctx context.Context, email string) ([]models.Application, error) {
	index := r.EmailIndex
	if index == "" {
		index = DefaultEmailIndex
	}
	values, err := attributevalue.MarshalMap(map[string]any{":email": email})
	if err != nil {
		return nil, err
	}

	p := dynamodb.NewQueryPaginator(r.DB, &dynamodb.QueryInput{
		TableName:                 &r.Table,
		IndexName:                 &index,
		KeyConditionExpression:    awsStr("email = :email"),
		ExpressionAttributeValues: values,
	})
	out := []models.Application{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var apps []models.Application
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &apps); err != nil {
			return nil, err
		}
		out = append(out, apps...)
	}
	return out, nil
}

// Ping checks the table exists and is ACTIVE.
func (r *Repo) Ping(ctx context.Context) error {
	out, err := r.DB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &r.Table})
	if err != nil {
		return err
	}
	if out.Table == nil || out.Table.TableStatus != types.TableStatusActive {
		return fmt.Errorf("table %s not active", r.Table)
	}
	return nil
}

func conditional(err error) error {
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return ErrDuplicate
	}
	return err
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// awsStr is a helper to get a pointer to a string literal.
func awsStr(s string) *string { return &s }

// NowISO returns t in ISO8601 format.
func NowISO(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// WaitlistKeys constructs the partition key (PK) and sort key (SK) for a waitlist entry.
func WaitlistKeys(id string) (pk, sk string) {
	return fmt.Sprintf("WAITLIST#%s", id), "ENTRY"
}

// ApplicationKeys constructs the partition key (PK) and sort key (SK) for an application.
func ApplicationKeys(s3Key string) (pk, sk string) {
	return fmt.Sprintf("APPLICATION#%s", s3Key), "META"
}
