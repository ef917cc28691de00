package db

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/awsclient"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

var _ Repository = (*DynamoRepository)(nil)

// dynamoTimeLayout is fixed width so string order matches time order on the
// submitter index range key.
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z"

type studyItem struct {
	StudyID         string `dynamodbav:"study_id"`
	SubmitterID     string `dynamodbav:"submitter_id"`
	SubmittedAt     string `dynamodbav:"submitted_at"`
	Description     string `dynamodbav:"description,omitempty"`
	SourceLocation  string `dynamodbav:"source_location"`
	SourceBucket    string `dynamodbav:"source_bucket,omitempty"`
	DatastoreID     string `dynamodbav:"datastore_id,omitempty"`
	JobID           string `dynamodbav:"job_id,omitempty"`
	ResultReference string `dynamodbav:"result_reference,omitempty"`
	Status          string `dynamodbav:"status"`
	ImportStatus    string `dynamodbav:"import_status,omitempty"`
	LastError       string `dynamodbav:"last_error,omitempty"`
	AttemptCount    int    `dynamodbav:"attempt_count"`
	ProcessingStage string `dynamodbav:"processing_stage,omitempty"`
	UpdatedAt       string `dynamodbav:"updated_at"`
}

func toItem(s *model.Study) studyItem {
	return studyItem{
		StudyID:         s.StudyID,
		SubmitterID:     s.SubmitterID,
		SubmittedAt:     formatDynamoTime(s.SubmittedAt),
		Description:     s.Description,
		SourceLocation:  s.SourceLocation,
		SourceBucket:    s.SourceBucket,
		DatastoreID:     s.DatastoreID,
		JobID:           s.JobID,
		ResultReference: s.ResultReference,
		Status:          string(s.Status),
		ImportStatus:    s.ImportStatus,
		LastError:       s.LastError,
		AttemptCount:    s.AttemptCount,
		ProcessingStage: s.ProcessingStage,
		UpdatedAt:       formatDynamoTime(s.UpdatedAt),
	}
}

func (it studyItem) toStudy() *model.Study {
	return &model.Study{
		StudyID:         it.StudyID,
		SubmitterID:     it.SubmitterID,
		SubmittedAt:     parseDynamoTime(it.SubmittedAt),
		Description:     it.Description,
		SourceLocation:  it.SourceLocation,
		SourceBucket:    it.SourceBucket,
		DatastoreID:     it.DatastoreID,
		JobID:           it.JobID,
		ResultReference: it.ResultReference,
		Status:          model.StudyStatus(it.Status),
		ImportStatus:    it.ImportStatus,
		LastError:       it.LastError,
		AttemptCount:    it.AttemptCount,
		ProcessingStage: it.ProcessingStage,
		UpdatedAt:       parseDynamoTime(it.UpdatedAt),
	}
}

func formatDynamoTime(t time.Time) string {
	return t.UTC().Format(dynamoTimeLayout)
}

func parseDynamoTime(v string) time.Time {
	t, err := time.Parse(dynamoTimeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t.UTC()
}

// DynamoRepository stores one item per study keyed by study_id, with a
// global secondary index on (submitter_id, submitted_at).
type DynamoRepository struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	index  string
	now    func() time.Time
}

func NewDynamoRepository(client dynamodbiface.DynamoDBAPI, table, submitterIndex string) *DynamoRepository {
	return &DynamoRepository{
		client: client,
		table:  table,
		index:  submitterIndex,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *DynamoRepository) Create(ctx context.Context, study *model.Study) error {
	av, err := dynamodbattribute.MarshalMap(toItem(study))
	if err != nil {
		return err
	}

	_, err = r.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(study_id)"),
	})
	if err != nil {
		if awsclient.Code(err) == dynamodb.ErrCodeConditionalCheckFailedException {
			return errors.NewConflictError(studyResource, study.StudyID)
		}
		return errors.NewTransientError(err, "put study")
	}
	return nil
}

func (r *DynamoRepository) Get(ctx context.Context, studyID string) (*model.Study, error) {
	out, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            studyKey(studyID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.NewTransientError(err, "get study")
	}
	if len(out.Item) == 0 {
		return nil, errors.NewNotFoundError(studyResource, studyID)
	}

	var item studyItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return item.toStudy(), nil
}

func (r *DynamoRepository) ConditionalUpdate(ctx context.Context, studyID string, expected model.StudyStatus, upd model.StudyUpdate) (bool, error) {
	names := map[string]*string{"#status": aws.String("status")}
	values := map[string]*dynamodb.AttributeValue{
		":expected":   {S: aws.String(string(expected))},
		":updated_at": {S: aws.String(formatDynamoTime(r.now()))},
	}
	sets := []string{"updated_at = :updated_at"}

	if upd.Status != nil {
		sets = append(sets, "#status = :status")
		values[":status"] = &dynamodb.AttributeValue{S: aws.String(string(*upd.Status))}
	}
	if upd.ImportStatus != nil {
		sets = append(sets, "import_status = :import_status")
		values[":import_status"] = stringValue(*upd.ImportStatus)
	}
	if upd.ResultReference != nil {
		sets = append(sets, "result_reference = :result_reference")
		values[":result_reference"] = stringValue(*upd.ResultReference)
	}
	if upd.LastError != nil {
		sets = append(sets, "last_error = :last_error")
		values[":last_error"] = stringValue(*upd.LastError)
	}
	if upd.IncrementAttempts {
		sets = append(sets, "attempt_count = if_not_exists(attempt_count, :zero) + :one")
		values[":zero"] = &dynamodb.AttributeValue{N: aws.String("0")}
		values[":one"] = &dynamodb.AttributeValue{N: aws.String("1")}
	}

	_, err := r.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       studyKey(studyID),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(study_id) AND #status = :expected"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if awsclient.Code(err) == dynamodb.ErrCodeConditionalCheckFailedException {
			return false, nil
		}
		return false, errors.NewTransientError(err, "update study")
	}
	return true, nil
}

func (r *DynamoRepository) ListBySubmitter(ctx context.Context, submitterID string, since time.Time, limit int) ([]*model.Study, error) {
	out, err := r.client.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(r.index),
		KeyConditionExpression: aws.String("submitter_id = :submitter AND submitted_at >= :since"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":submitter": {S: aws.String(submitterID)},
			":since":     {S: aws.String(formatDynamoTime(since))},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int64(int64(normalizeLimit(limit))),
	})
	if err != nil {
		return nil, errors.NewTransientError(err, "query studies")
	}

	var items []studyItem
	if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, err
	}

	studies := make([]*model.Study, 0, len(items))
	for _, it := range items {
		studies = append(studies, it.toStudy())
	}
	return studies, nil
}

// ListByStatus runs a filtered scan; the table has no status index.
func (r *DynamoRepository) ListByStatus(ctx context.Context, status model.StudyStatus) ([]*model.Study, error) {
	var studies []*model.Study
	var decodeErr error

	err := r.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(r.table),
		FilterExpression:         aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]*string{"#status": aws.String("status")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":status": {S: aws.String(string(status))},
		},
		ConsistentRead: aws.Bool(true),
	}, func(page *dynamodb.ScanOutput, _ bool) bool {
		var items []studyItem
		if decodeErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); decodeErr != nil {
			return false
		}
		for _, it := range items {
			studies = append(studies, it.toStudy())
		}
		return true
	})
	if err != nil {
		return nil, errors.NewTransientError(err, "scan studies")
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	sort.Slice(studies, func(i, j int) bool {
		return studies[i].SubmittedAt.Before(studies[j].SubmittedAt)
	})
	return studies, nil
}

func studyKey(studyID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"study_id": {S: aws.String(studyID)},
	}
}

// DynamoDB rejects empty string attribute values in older API versions; an
// empty value is stored as a NULL attribute instead.
func stringValue(v string) *dynamodb.AttributeValue {
	if v == "" {
		return &dynamodb.AttributeValue{NULL: aws.Bool(true)}
	}
	return &dynamodb.AttributeValue{S: aws.String(v)}
}
