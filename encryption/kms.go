// Package encryption seals session cache records with AWS KMS envelope encryption.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type Cryptor interface {
	CryptorID() string
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

type KMSClient interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type KMSKey struct {
	keyARN string
	client KMSClient
	random io.Reader
}

var _ Cryptor = (*KMSKey)(nil)

func NewKMSKey(keyARN string, client KMSClient) *KMSKey {
	return &KMSKey{
		keyARN: keyARN,
		client: client,
		random: rand.Reader,
	}
}

func (k *KMSKey) CryptorID() string {
	return "awskms|" + k.keyARN
}

func (k *KMSKey) Encrypt(ctx context.Context, plaintext []byte) (_ string, err error) {
	ctx, span := o11y.Trace(ctx, "encryption.KMSKey.Encrypt", o11y.WithAnnotation("key_arn", k.keyARN))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	dataKey, err := k.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(k.keyARN),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return "", fmt.Errorf("generate data key: %w", err)
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(k.random, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := Ciphertext{
		EncryptedKey:  dataKey.CiphertextBlob,
		Nonce:         nonce,
		EncryptedData: gcm.Seal(nil, nonce, plaintext, []byte(k.keyARN)),
	}
	encoded, err := ciphertext.Encode()
	if err != nil {
		return "", fmt.Errorf("encode ciphertext: %w", err)
	}
	return encoded, nil
}

func (k *KMSKey) Decrypt(ctx context.Context, ciphertext string) (_ []byte, err error) {
	ctx, span := o11y.Trace(ctx, "encryption.KMSKey.Decrypt", o11y.WithAnnotation("key_arn", k.keyARN))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	decoded, err := DecodeCiphertext(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	dataKey, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(k.keyARN),
		CiphertextBlob: decoded.EncryptedKey,
	})
	if err != nil {
		return nil, fmt.Errorf("decrypt data key: %w", err)
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return nil, err
	}
	if len(decoded.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size")
	}
	plaintext, err := gcm.Open(nil, decoded.Nonce, decoded.EncryptedData, []byte(k.keyARN))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
