// Package models defines the data models used in the application.
package models

// ApplicationStatus represents where an application is in its lifecycle.
type ApplicationStatus string

// Possible values for ApplicationStatus
const (
	// StatusUploaded: the object landed in S3 but the applicant has not
	// confirmed the submission yet.
	StatusUploaded  ApplicationStatus = "UPLOADED"
	StatusSubmitted ApplicationStatus = "SUBMITTED"
)

// WaitlistEntry is an immutable waitlist signup.
type WaitlistEntry struct {
	// DynamoDB keys
	PK string `dynamodbav:"PK" json:"-"` // WAITLIST#<ulid>
	SK string `dynamodbav:"SK" json:"-"` // ENTRY

	ID        string `dynamodbav:"id" json:"id"`
	Email     string `dynamodbav:"email" json:"email"`
	CreatedAt string `dynamodbav:"created_at" json:"createdAt"` // ISO8601
	UserAgent string `dynamodbav:"user_agent,omitempty" json:"userAgent,omitempty"`
	Referrer  string `dynamodbav:"referrer,omitempty" json:"referrer,omitempty"`
}

// Application is a submitted job application and its uploaded document.
// Written by /apply-complete and by the S3 indexer, in either order.
type Application struct {
	// DynamoDB keys
	PK string `dynamodbav:"PK" json:"-"` // APPLICATION#<s3 key>
	SK string `dynamodbav:"SK" json:"-"` // META

	Email        string            `dynamodbav:"email,omitempty" json:"email"`
	Filename     string            `dynamodbav:"filename,omitempty" json:"filename"`
	ContentType  string            `dynamodbav:"content_type,omitempty" json:"contentType"`
	DeclaredSize int64             `dynamodbav:"declared_size,omitempty" json:"declaredSize"`
	S3Key        string            `dynamodbav:"s3_key" json:"key"`
	Status       ApplicationStatus `dynamodbav:"status" json:"status"`
	SubmittedAt  string            `dynamodbav:"submitted_at,omitempty" json:"submittedAt,omitempty"`  // ISO8601
	UploadedAt   string            `dynamodbav:"uploaded_at,omitempty" json:"uploadedAt,omitempty"`    // ISO8601; set by indexer
	SizeBytes    int64             `dynamodbav:"size_bytes,omitempty" json:"sizeBytes,omitempty"`      // set by indexer
	ETag         string            `dynamodbav:"etag,omitempty" json:"etag,omitempty"`                 // set by indexer
}
