package resources

import (
	"context"

	"go.uber.org/zap"

	"github.com/jhump/annoboot/runtime"
)

// Secrets provisions the service's secrets, keyed by name.
type Secrets struct{}

func NewSecrets() *Secrets {
	return &Secrets{}
}

func (s *Secrets) Type() string {
	return "secrets"
}

func (s *Secrets) Config() interface{} {
	return struct{}{}
}

func (s *Secrets) Output(ctx context.Context, factory runtime.Factory) (map[string]string, error) {
	secrets, err := factory.GetSecrets(ctx)
	if err != nil {
		return nil, err
	}
	zap.L().Named("secrets").Debug("loaded secrets", zap.Strings("names", runtime.SecretNames(secrets)))
	return secrets, nil
}
