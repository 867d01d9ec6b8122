package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/golang-jwt/jwt/v5"

	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// kmsKeyFetcher is the subset of the KMS API needed to fetch a public key.
type kmsKeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSKey verifies tokens signed by an asymmetric KMS key. The public key is
// fetched on first use and cached for the life of the process.
type KMSKey struct {
	client kmsKeyFetcher
	keyARN string

	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

func NewKMSKey(client *kms.Client, keyARN string) *KMSKey {
	return &KMSKey{client: client, keyARN: keyARN}
}

func (k *KMSKey) Methods() []string {
	return []string{"ES256", "ES384", "RS256", "PS256"}
}

// PublicKey returns the cached key, fetching it from KMS on the first call.
func (k *KMSKey) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	k.mu.RLock()
	if k.pubKey != nil {
		defer k.mu.RUnlock()
		return k.pubKey, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pubKey != nil {
		return k.pubKey, nil
	}
	if k.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := k.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(k.keyARN)})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms get public key")
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", k.keyARN, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}
	switch pub.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
	default:
		return nil, xerrors.Newf("unsupported kms public key type %T", pub)
	}
	k.pubKey = pub
	return k.pubKey, nil
}

// Key returns the public key only when the token's alg fits its type, so an
// RSA key is never offered to an ECDSA method or the reverse.
func (k *KMSKey) Key(ctx context.Context, t *jwt.Token) (any, error) {
	pub, err := k.PublicKey(ctx)
	if err != nil {
		return nil, err
	}
	alg := t.Method.Alg()
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		want := ""
		switch key.Curve {
		case elliptic.P256():
			want = "ES256"
		case elliptic.P384():
			want = "ES384"
		}
		if alg != want {
			return nil, jwt.ErrTokenUnverifiable
		}
	case *rsa.PublicKey:
		if alg != "RS256" && alg != "PS256" {
			return nil, jwt.ErrTokenUnverifiable
		}
	}
	return pub, nil
}
