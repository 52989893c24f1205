package data_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xsequence/identity-verifier/data"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryDB keeps items keyed by their string ID attribute.
type memoryDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMemoryDB() *memoryDB {
	return &memoryDB{items: map[string]map[string]types.AttributeValue{}}
}

func itemID(key map[string]types.AttributeValue) string {
	return key["ID"].(*types.AttributeValueMemberS).Value
}

func (m *memoryDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: m.items[*params.TableName+"|"+itemID(params.Key)]}, nil
}

func (m *memoryDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[*params.TableName+"|"+itemID(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memoryDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, *params.TableName+"|"+itemID(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestAuthRecordTable(t *testing.T) {
	ctx := context.Background()
	table := data.NewAuthRecordTable(newMemoryDB(), "AuthRecordsTable")
	id := data.RecordID{DeviceID: "kiosk-1", Key: "biometricAuthToken"}

	_, found, err := table.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, table.Put(ctx, &data.AuthRecord{ID: id, Payload: "first", UpdatedAt: now}))
	require.NoError(t, table.Put(ctx, &data.AuthRecord{ID: id, Payload: "second", UpdatedAt: now}))

	record, found, err := table.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "second", record.Payload)
	assert.True(t, now.Equal(record.UpdatedAt))

	other, found, err := table.Get(ctx, data.RecordID{DeviceID: "kiosk-2", Key: "biometricAuthToken"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, other)

	require.NoError(t, table.Delete(ctx, id))
	_, found, err = table.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordID(t *testing.T) {
	var id data.RecordID
	require.NoError(t, id.FromString("kiosk-1/biometricAuthToken"))
	assert.Equal(t, data.RecordID{DeviceID: "kiosk-1", Key: "biometricAuthToken"}, id)

	for _, s := range []string{"", "kiosk-1", "/key", "kiosk-1/"} {
		require.Error(t, id.FromString(s), s)
	}

	var wrongType data.RecordID
	require.Error(t, wrongType.UnmarshalDynamoDBAttributeValue(&types.AttributeValueMemberN{Value: "1"}))
}

func TestAuthRecordSize(t *testing.T) {
	// Maximum DynamoDB item size is 400 KB; a record with a large identity and raw payload,
	// sealed and base64-encoded, stays below 350 KB.
	raw, err := json.Marshal(map[string]any{
		"accessToken":   strings.Repeat("a", 2048),
		"userInfo":      map[string]string{"currentAddress": strings.Repeat("x", 4096)},
		"biometricData": map[string]string{"blob": strings.Repeat("b", 64<<10)},
	})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(raw)
	sealed := encoded + encoded

	record := &data.AuthRecord{
		ID:        data.RecordID{DeviceID: strings.Repeat("d", 256), Key: "biometricAuthToken"},
		Payload:   sealed,
		UpdatedAt: time.Now(),
	}
	av, err := attributevalue.Marshal(record)
	require.NoError(t, err)
	b, err := json.Marshal(av)
	require.NoError(t, err)
	require.Less(t, len(b), 350*1024)
}
