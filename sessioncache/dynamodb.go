package sessioncache

import (
	"context"

	"github.com/0xsequence/identity-verifier/data"
	"github.com/benbjohnson/clock"
)

// DynamoStore keeps one record per device and key in the auth records table.
type DynamoStore struct {
	table    *data.AuthRecordTable
	deviceID string
	clock    clock.Clock
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(table *data.AuthRecordTable, deviceID string, clk clock.Clock) *DynamoStore {
	if deviceID == "" {
		deviceID = "default"
	}
	return &DynamoStore{table: table, deviceID: deviceID, clock: clk}
}

func (s *DynamoStore) id(key string) data.RecordID {
	return data.RecordID{DeviceID: s.deviceID, Key: key}
}

func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	record, found, err := s.table.Get(ctx, s.id(key))
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(record.Payload), true, nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value []byte) error {
	return s.table.Put(ctx, &data.AuthRecord{
		ID:        s.id(key),
		Payload:   string(value),
		UpdatedAt: s.clock.Now().UTC(),
	})
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	return s.table.Delete(ctx, s.id(key))
}
