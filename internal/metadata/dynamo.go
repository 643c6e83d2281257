// Package metadata persists upload sessions. The DynamoDB store is the
// production implementation; the memory store backs tests and local runs.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fileinsights/uploads/internal/upload"
)

// DynamoStore keeps one item per session, keyed by id. Parts live in a
// map attribute so a single part registration is a single conditional
// UpdateItem, never a read-modify-write of the whole collection.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoStore creates a store over the given table.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// sessionRecord is the DynamoDB shape of a session. Part numbers become
// decimal-string map keys since attribute maps are string-keyed.
type sessionRecord struct {
	ID          string                 `dynamodbav:"id"`
	Owner       string                 `dynamodbav:"owner"`
	ObjectKey   string                 `dynamodbav:"object_key"`
	ContentType string                 `dynamodbav:"content_type"`
	SizeHint    int64                  `dynamodbav:"size_hint"`
	PartSize    int64                  `dynamodbav:"part_size"`
	PartCount   int                    `dynamodbav:"part_count"`
	Status      string                 `dynamodbav:"status"`
	Parts       map[string]upload.Part `dynamodbav:"parts"`
	UploadToken string                 `dynamodbav:"upload_token"`
	CreatedAt   time.Time              `dynamodbav:"created_at"`
	UpdatedAt   time.Time              `dynamodbav:"updated_at"`
	CompletedAt *time.Time             `dynamodbav:"completed_at,omitempty"`
}

func toRecord(s *upload.Session) sessionRecord {
	rec := sessionRecord{
		ID:          s.ID,
		Owner:       s.Owner,
		ObjectKey:   s.ObjectKey,
		ContentType: s.ContentType,
		SizeHint:    s.SizeHint,
		PartSize:    s.PartSize,
		PartCount:   s.PartCount,
		Status:      string(s.Status),
		Parts:       make(map[string]upload.Part, len(s.Parts)),
		UploadToken: s.UploadToken,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		CompletedAt: s.CompletedAt,
	}
	for n, p := range s.Parts {
		rec.Parts[strconv.Itoa(n)] = p
	}
	return rec
}

func (rec sessionRecord) toSession() (*upload.Session, error) {
	s := &upload.Session{
		ID:          rec.ID,
		Owner:       rec.Owner,
		ObjectKey:   rec.ObjectKey,
		ContentType: rec.ContentType,
		SizeHint:    rec.SizeHint,
		PartSize:    rec.PartSize,
		PartCount:   rec.PartCount,
		Status:      upload.Status(rec.Status),
		Parts:       make(map[int]upload.Part, len(rec.Parts)),
		UploadToken: rec.UploadToken,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		CompletedAt: rec.CompletedAt,
	}
	for key, p := range rec.Parts {
		n, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("corrupt part key %q in session %s: %w", key, rec.ID, err)
		}
		s.Parts[n] = p
	}
	return s, nil
}

// PutIfAbsent persists a new session, refusing to overwrite an existing
// id.
func (d *DynamoStore) PutIfAbsent(ctx context.Context, session *upload.Session) error {
	item, err := attributevalue.MarshalMap(toRecord(session))
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return upload.Errorf(upload.KindConflict, "session %s already exists", session.ID)
		}
		return upload.WrapError(upload.KindBackendUnavailable, err, "put session")
	}
	return nil
}

// Get loads one session by id.
func (d *DynamoStore) Get(ctx context.Context, id string) (*upload.Session, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, upload.WrapError(upload.KindBackendUnavailable, err, "get session")
	}
	if out.Item == nil {
		return nil, upload.Errorf(upload.KindNotFound, "session %s not found", id)
	}
	var rec sessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return rec.toSession()
}

// UpdatePart upserts one part of the parts map. The condition admits a
// fresh part or a re-registration carrying the identical etag, and only
// on a non-terminal record; anything else fails the write, and a re-read
// decides the outcome.
func (d *DynamoStore) UpdatePart(ctx context.Context, id string, part upload.Part) (*upload.Session, error) {
	partAttr, err := attributevalue.Marshal(part)
	if err != nil {
		return nil, fmt.Errorf("marshal part %d: %w", part.Number, err)
	}
	now, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression: aws.String("SET #parts.#n = :part, updated_at = :now"),
		ConditionExpression: aws.String(
			"attribute_exists(id) AND #st IN (:initiated, :in_progress) AND (attribute_not_exists(#parts.#n) OR #parts.#n.etag = :etag)"),
		ExpressionAttributeNames: map[string]string{
			"#parts": "parts",
			"#n":     strconv.Itoa(part.Number),
			"#st":    "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":part":        partAttr,
			":etag":        &types.AttributeValueMemberS{Value: part.ETag},
			":initiated":   &types.AttributeValueMemberS{Value: string(upload.StatusInitiated)},
			":in_progress": &types.AttributeValueMemberS{Value: string(upload.StatusInProgress)},
			":now":         now,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			current, getErr := d.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return resolvePartConditionFailure(current, part, err)
		}
		return nil, upload.WrapError(upload.KindBackendUnavailable, err, "update part")
	}

	var rec sessionRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return rec.toSession()
}

// resolvePartConditionFailure decides the outcome of a failed part upsert
// from the re-read record: a terminal record rejects the registration, a
// differing etag is a conflict, and an identical etag means a concurrent
// identical registration won, which is an idempotent success.
func resolvePartConditionFailure(current *upload.Session, part upload.Part, cause error) (*upload.Session, error) {
	if current.Status.Terminal() {
		return nil, upload.Errorf(upload.KindInvalidState, "session %s is %s", current.ID, current.Status)
	}
	if existing, ok := current.Parts[part.Number]; ok {
		if existing.ETag != part.ETag {
			return nil, upload.Errorf(upload.KindConflict,
				"part %d of session %s already registered with a different etag", part.Number, current.ID)
		}
		return current, nil
	}
	return nil, upload.WrapError(upload.KindBackendUnavailable, cause, "update part")
}

// CompareAndSetStatus transitions the status attribute only when it still
// holds the expected value.
func (d *DynamoStore) CompareAndSetStatus(ctx context.Context, id string, expected, next upload.Status, completedAt *time.Time) (*upload.Session, error) {
	now, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}

	updateExpr := "SET #st = :next, updated_at = :now"
	values := map[string]types.AttributeValue{
		":next":     &types.AttributeValueMemberS{Value: string(next)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":now":      now,
	}
	if completedAt != nil {
		done, err := attributevalue.Marshal(completedAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("marshal timestamp: %w", err)
		}
		updateExpr += ", completed_at = :done"
		values[":done"] = done
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String("attribute_exists(id) AND #st = :expected"),
		ExpressionAttributeNames:  map[string]string{"#st": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("session %s not in status %s: %w", id, expected, upload.ErrStatusPrecondition)
		}
		return nil, upload.WrapError(upload.KindBackendUnavailable, err, "compare-and-set status")
	}

	var rec sessionRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return rec.toSession()
}
