package encryption_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/0xsequence/identity-verifier/encryption"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const keyARN = "arn:aws:kms:us-east-1:000000000000:key/27ebbde0-49d2-4cb6-ad78-4f2c24fe7b79"

type MockKMS struct {
	mock.Mock
}

func (m *MockKMS) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kms.DecryptOutput), args.Error(1)
}

func (m *MockKMS) GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kms.GenerateDataKeyOutput), args.Error(1)
}

func TestKMSKey(t *testing.T) {
	ctx := context.Background()
	dataKey := bytes.Repeat([]byte{7}, 32)
	wrapped := []byte("wrapped-data-key")

	kmsClient := &MockKMS{}
	kmsClient.On("GenerateDataKey", mock.Anything, mock.MatchedBy(func(in *kms.GenerateDataKeyInput) bool {
		return *in.KeyId == keyARN
	}), mock.Anything).Return(&kms.GenerateDataKeyOutput{Plaintext: dataKey, CiphertextBlob: wrapped}, nil)
	kmsClient.On("Decrypt", mock.Anything, mock.MatchedBy(func(in *kms.DecryptInput) bool {
		return bytes.Equal(in.CiphertextBlob, wrapped)
	}), mock.Anything).Return(&kms.DecryptOutput{Plaintext: dataKey}, nil)

	key := encryption.NewKMSKey(keyARN, kmsClient)
	assert.Equal(t, "awskms|"+keyARN, key.CryptorID())

	sealed, err := key.Encrypt(ctx, []byte(`{"accessToken":"at_1"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "accessToken")

	plaintext, err := key.Decrypt(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"accessToken":"at_1"}`, string(plaintext))

	decoded, err := encryption.DecodeCiphertext(sealed)
	require.NoError(t, err)
	decoded.EncryptedData[0] ^= 0xff
	tampered, err := decoded.Encode()
	require.NoError(t, err)
	_, err = key.Decrypt(ctx, tampered)
	require.Error(t, err)

	kmsClient.AssertExpectations(t)
}

func TestKMSKeyErrors(t *testing.T) {
	ctx := context.Background()
	kmsClient := &MockKMS{}
	kmsClient.On("GenerateDataKey", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("AccessDeniedException"))

	key := encryption.NewKMSKey(keyARN, kmsClient)
	_, err := key.Encrypt(ctx, []byte("x"))
	require.ErrorContains(t, err, "AccessDeniedException")

	_, err = key.Decrypt(ctx, "not-a-ciphertext")
	require.ErrorContains(t, err, "invalid ciphertext")
}

func TestCiphertext(t *testing.T) {
	tests := []struct {
		name          string
		ciphertext    encryption.Ciphertext
		errorContains string
	}{
		{
			name:          "empty key",
			ciphertext:    encryption.Ciphertext{Nonce: []byte("n"), EncryptedData: []byte("d")},
			errorContains: "encrypted key cannot be empty",
		},
		{
			name:          "empty nonce",
			ciphertext:    encryption.Ciphertext{EncryptedKey: []byte("k"), EncryptedData: []byte("d")},
			errorContains: "nonce cannot be empty",
		},
		{
			name:          "empty data",
			ciphertext:    encryption.Ciphertext{EncryptedKey: []byte("k"), Nonce: []byte("n")},
			errorContains: "encrypted data cannot be empty",
		},
		{
			name:       "binary data",
			ciphertext: encryption.Ciphertext{EncryptedKey: []byte{0, 1}, Nonce: []byte{2, 3}, EncryptedData: []byte{0xff, 0xfe}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.ciphertext.Encode()
			if tt.errorContains != "" {
				require.ErrorContains(t, err, tt.errorContains)
				return
			}
			require.NoError(t, err)

			decoded, err := encryption.DecodeCiphertext(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.ciphertext, *decoded)
		})
	}

	_, err := encryption.DecodeCiphertext("v2.a.b.c")
	require.ErrorContains(t, err, "unsupported ciphertext version")
	_, err = encryption.DecodeCiphertext("v1.a.b")
	require.ErrorContains(t, err, "invalid ciphertext")
	_, err = encryption.DecodeCiphertext("v1.!!.b.c")
	require.ErrorContains(t, err, "decode encrypted key")
}
