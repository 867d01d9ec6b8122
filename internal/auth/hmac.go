package auth

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/golang-jwt/jwt/v5"

	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// HMACKey verifies HS256 tokens with a shared secret.
type HMACKey struct {
	secret []byte
}

func NewHMACKey(secret string) (*HMACKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, xerrors.New("jwt secret is empty")
	}
	return &HMACKey{secret: []byte(secret)}, nil
}

func (k *HMACKey) Methods() []string { return []string{jwt.SigningMethodHS256.Alg()} }

func (k *HMACKey) Key(_ context.Context, t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrTokenUnverifiable
	}
	return k.secret, nil
}

// ParameterGetter is the part of the SSM API used to load the secret.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// HMACKeyFromSSM reads the shared secret from a SecureString parameter.
func HMACKeyFromSSM(ctx context.Context, client ParameterGetter, name string) (*HMACKey, error) {
	if client == nil {
		return nil, xerrors.New("ssm client is not configured")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", name)
	}
	k, err := NewHMACKey(*out.Parameter.Value)
	if err != nil {
		return nil, xerrors.Wrapf(err, "SSM parameter %s", name)
	}
	return k, nil
}
