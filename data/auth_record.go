package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RecordID addresses the cached record of one device. Each device holds a single record per key.
type RecordID struct {
	DeviceID string
	Key      string
}

func (id RecordID) String() string {
	return id.DeviceID + "/" + id.Key
}

func (id *RecordID) FromString(s string) error {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid record ID format: %s", s)
	}
	id.DeviceID = parts[0]
	id.Key = parts[1]
	return nil
}

func (id RecordID) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberS{Value: id.String()}, nil
}

func (id *RecordID) UnmarshalDynamoDBAttributeValue(value types.AttributeValue) error {
	v, ok := value.(*types.AttributeValueMemberS)
	if !ok {
		return fmt.Errorf("invalid record ID of type: %T", value)
	}
	return id.FromString(v.Value)
}

// AuthRecord is the stored form of a session cache entry. Payload is the encoded record exactly
// as the session cache produced it.
type AuthRecord struct {
	ID        RecordID  `dynamodbav:"ID"`
	Payload   string    `dynamodbav:"Payload"`
	UpdatedAt time.Time `dynamodbav:"UpdatedAt"`
}

func (r *AuthRecord) Key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ID": &types.AttributeValueMemberS{Value: r.ID.String()},
	}
}

type AuthRecordTable struct {
	db       DB
	tableARN string
}

func NewAuthRecordTable(db DB, tableARN string) *AuthRecordTable {
	return &AuthRecordTable{
		db:       db,
		tableARN: tableARN,
	}
}

func (t *AuthRecordTable) Get(ctx context.Context, id RecordID) (*AuthRecord, bool, error) {
	record := AuthRecord{ID: id}

	out, err := t.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &t.tableARN,
		Key:            record.Key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("GetItem: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return &record, true, nil
}

// Put replaces the record wholesale.
func (t *AuthRecordTable) Put(ctx context.Context, record *AuthRecord) error {
	av, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	input := &dynamodb.PutItemInput{
		TableName: &t.tableARN,
		Item:      av,
	}
	if _, err := t.db.PutItem(ctx, input); err != nil {
		return fmt.Errorf("PutItem: %w", err)
	}
	return nil
}

func (t *AuthRecordTable) Delete(ctx context.Context, id RecordID) error {
	record := AuthRecord{ID: id}
	_, err := t.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &t.tableARN,
		Key:       record.Key(),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem: %w", err)
	}
	return nil
}
