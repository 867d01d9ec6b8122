package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/taehunt/careerbooks-backend/internal/account"
	"github.com/taehunt/careerbooks-backend/internal/auth"
	"github.com/taehunt/careerbooks-backend/internal/catalog"
	"github.com/taehunt/careerbooks-backend/internal/cfg"
	"github.com/taehunt/careerbooks-backend/internal/log"
	"github.com/taehunt/careerbooks-backend/internal/store/postgres"
	"github.com/taehunt/careerbooks-backend/internal/store/yamlfile"
	"github.com/taehunt/careerbooks-backend/internal/xerrors"
)

// dataStore is what the download service and readiness probe need from a
// backing store. Both the Postgres and YAML stores satisfy it.
type dataStore interface {
	catalog.Catalog
	account.Store
	Ping(ctx context.Context) error
}

// openStore returns the configured store, its name for logs and metrics,
// and a close func.
func openStore(ctx context.Context, conf cfg.App, L log.Logger) (dataStore, string, func(), error) {
	if conf.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, conf.DatabaseURL, int32(conf.DatabaseMaxConns))
		if err != nil {
			return nil, "", nil, err
		}
		if err := postgres.Migrate(ctx, pool, L); err != nil {
			pool.Close()
			return nil, "", nil, xerrors.Wrap(err, "migrate postgres")
		}
		return postgres.New(pool), "postgres", pool.Close, nil
	}

	st, err := yamlfile.Open(conf.DataFile)
	if err != nil {
		return nil, "", nil, err
	}
	L.Info(ctx, "loaded data file", "path", conf.DataFile, "books", len(st.Books()))
	return st, "yaml", func() {}, nil
}

// loadKeys builds the token key source. cfg.Validate guarantees exactly one
// source is set.
func loadKeys(ctx context.Context, conf cfg.App, awsCfg aws.Config) (auth.KeySource, string, error) {
	switch {
	case conf.JWTSecret != "":
		k, err := auth.NewHMACKey(conf.JWTSecret)
		return k, "static", err
	case conf.JWTSecretSSMParam != "":
		k, err := auth.HMACKeyFromSSM(ctx, ssm.NewFromConfig(awsCfg), conf.JWTSecretSSMParam)
		return k, "ssm", err
	case conf.JWTKMSKeyARN != "":
		k := auth.NewKMSKey(kms.NewFromConfig(awsCfg), conf.JWTKMSKeyARN)
		// fetch the public key now so a bad ARN fails startup, not the
		// first download
		if _, err := k.PublicKey(ctx); err != nil {
			return nil, "", xerrors.Wrapf(err, "load KMS public key %s", conf.JWTKMSKeyARN)
		}
		return k, "kms", nil
	}
	return nil, "", xerrors.New("no token key source configured")
}
