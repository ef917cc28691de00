package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	PutItemFunc    func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	GetItemFunc    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	UpdateItemFunc func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	QueryFunc      func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	ScanOutputs    []*dynamodb.ScanOutput
	ScanErr        error
	ScanInput      *dynamodb.ScanInput
}

func (f *fakeDynamo) PutItemWithContext(_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	return f.PutItemFunc(in)
}

func (f *fakeDynamo) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	return f.GetItemFunc(in)
}

func (f *fakeDynamo) UpdateItemWithContext(_ aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	return f.UpdateItemFunc(in)
}

func (f *fakeDynamo) QueryWithContext(_ aws.Context, in *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	return f.QueryFunc(in)
}

func (f *fakeDynamo) ScanPagesWithContext(_ aws.Context, in *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, _ ...request.Option) error {
	f.ScanInput = in
	if f.ScanErr != nil {
		return f.ScanErr
	}
	for i, page := range f.ScanOutputs {
		if !fn(page, i == len(f.ScanOutputs)-1) {
			break
		}
	}
	return nil
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

func TestDynamoRepository_Create(t *testing.T) {
	var captured *dynamodb.PutItemInput
	fake := &fakeDynamo{PutItemFunc: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		captured = in
		return &dynamodb.PutItemOutput{}, nil
	}}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	study := importingStudy("S1", "alice", time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC))
	require.NoError(t, repo.Create(context.Background(), study))

	require.NotNil(t, captured)
	assert.Equal(t, "studies", aws.StringValue(captured.TableName))
	assert.Equal(t, "attribute_not_exists(study_id)", aws.StringValue(captured.ConditionExpression))
	assert.Equal(t, "S1", aws.StringValue(captured.Item["study_id"].S))
	assert.Equal(t, "IMPORTING", aws.StringValue(captured.Item["status"].S))
	assert.Equal(t, "2024-03-01T12:00:00.000000005Z", aws.StringValue(captured.Item["submitted_at"].S))
}

func TestDynamoRepository_CreateConflict(t *testing.T) {
	fake := &fakeDynamo{PutItemFunc: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	err := repo.Create(context.Background(), importingStudy("S1", "alice", time.Now()))
	assert.True(t, errors.IsConflict(err))
}

func TestDynamoRepository_GetRoundTrip(t *testing.T) {
	study := importingStudy("S1", "alice", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	study.AttemptCount = 4
	item, err := dynamodbattribute.MarshalMap(toItem(study))
	require.NoError(t, err)

	fake := &fakeDynamo{GetItemFunc: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		assert.True(t, aws.BoolValue(in.ConsistentRead))
		if aws.StringValue(in.Key["study_id"].S) != "S1" {
			return &dynamodb.GetItemOutput{}, nil
		}
		return &dynamodb.GetItemOutput{Item: item}, nil
	}}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	got, err := repo.Get(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, *study, *got)

	_, err = repo.Get(context.Background(), "other")
	assert.True(t, errors.IsNotFound(err))
}

func TestDynamoRepository_ConditionalUpdate(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	fake := &fakeDynamo{UpdateItemFunc: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		captured = in
		return &dynamodb.UpdateItemOutput{}, nil
	}}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	ok, err := repo.ConditionalUpdate(context.Background(), "S1", model.StudyStatusImporting, model.StudyUpdate{
		Status:            model.StatusPtr(model.StudyStatusFailed),
		LastError:         model.StringPtr("import failed"),
		IncrementAttempts: true,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "attribute_exists(study_id) AND #status = :expected", aws.StringValue(captured.ConditionExpression))
	assert.Contains(t, aws.StringValue(captured.UpdateExpression), "#status = :status")
	assert.Contains(t, aws.StringValue(captured.UpdateExpression), "attempt_count = if_not_exists(attempt_count, :zero) + :one")
	assert.Equal(t, "IMPORTING", aws.StringValue(captured.ExpressionAttributeValues[":expected"].S))
	assert.Equal(t, "FAILED", aws.StringValue(captured.ExpressionAttributeValues[":status"].S))
	assert.Equal(t, "import failed", aws.StringValue(captured.ExpressionAttributeValues[":last_error"].S))
}

func TestDynamoRepository_ConditionalUpdateErrors(t *testing.T) {
	fake := &fakeDynamo{UpdateItemFunc: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	ok, err := repo.ConditionalUpdate(context.Background(), "S1", model.StudyStatusImporting, model.StudyUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)

	fake.UpdateItemFunc = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, fmt.Errorf("connection reset")
	}
	_, err = repo.ConditionalUpdate(context.Background(), "S1", model.StudyStatusImporting, model.StudyUpdate{})
	assert.True(t, errors.IsTransient(err))
}

func TestDynamoRepository_ListBySubmitter(t *testing.T) {
	newer := importingStudy("S2", "alice", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	older := importingStudy("S1", "alice", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	a, _ := dynamodbattribute.MarshalMap(toItem(newer))
	b, _ := dynamodbattribute.MarshalMap(toItem(older))

	fake := &fakeDynamo{QueryFunc: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		assert.Equal(t, "by-submitter", aws.StringValue(in.IndexName))
		assert.False(t, aws.BoolValue(in.ScanIndexForward))
		assert.Equal(t, int64(defaultListLimit), aws.Int64Value(in.Limit))
		return &dynamodb.QueryOutput{Items: []map[string]*dynamodb.AttributeValue{a, b}}, nil
	}}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	studies, err := repo.ListBySubmitter(context.Background(), "alice", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, studies, 2)
	assert.Equal(t, "S2", studies[0].StudyID)
	assert.Equal(t, "S1", studies[1].StudyID)
}

func TestDynamoRepository_ListByStatus(t *testing.T) {
	late := importingStudy("S2", "bob", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	early := importingStudy("S1", "alice", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	a, _ := dynamodbattribute.MarshalMap(toItem(late))
	b, _ := dynamodbattribute.MarshalMap(toItem(early))

	fake := &fakeDynamo{ScanOutputs: []*dynamodb.ScanOutput{
		{Items: []map[string]*dynamodb.AttributeValue{a}},
		{Items: []map[string]*dynamodb.AttributeValue{b}},
	}}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	studies, err := repo.ListByStatus(context.Background(), model.StudyStatusImporting)
	require.NoError(t, err)
	require.Len(t, studies, 2)
	assert.Equal(t, "S1", studies[0].StudyID)
	assert.Equal(t, "S2", studies[1].StudyID)

	require.NotNil(t, fake.ScanInput)
	assert.Equal(t, "#status = :status", aws.StringValue(fake.ScanInput.FilterExpression))
	assert.Equal(t, "IMPORTING", aws.StringValue(fake.ScanInput.ExpressionAttributeValues[":status"].S))
}

func TestDynamoRepository_ListByStatusError(t *testing.T) {
	fake := &fakeDynamo{ScanErr: fmt.Errorf("throttled")}
	repo := NewDynamoRepository(fake, "studies", "by-submitter")

	_, err := repo.ListByStatus(context.Background(), model.StudyStatusImporting)
	assert.True(t, errors.IsTransient(err))
}
