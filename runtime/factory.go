package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// SecretsFile is the name of the file that LocalFactory reads secrets from.
const SecretsFile = "Secrets.toml"

// SecretsPrefix is prepended to secret names to form template variables, so
// that a secret named PG_USER is referenced as {secrets.PG_USER}.
const SecretsPrefix = "secrets."

// ErrNoConnectionString is returned by Factory.ConnectionString when no
// connection string is configured for a resource kind.
var ErrNoConnectionString = errors.New("no connection string configured")

// Factory gives resource builders access to the environment the service is
// running in.
type Factory interface {
	// GetSecrets returns the service's secrets, keyed by name.
	GetSecrets(ctx context.Context) (map[string]string, error)
	// ConnectionString returns the connection string for a resource of the
	// given kind, like "postgres", when the builder is not given one.
	ConnectionString(ctx context.Context, kind string) (string, error)
	// ServiceName returns the name of the service.
	ServiceName() string
}

// SecretVars turns the result of Factory.GetSecrets into template variables
// for Strfmt, by prefixing every key with SecretsPrefix.
func SecretVars(secrets map[string]string, err error) (map[string]string, error) {
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(secrets))
	for k, v := range secrets {
		vars[SecretsPrefix+k] = v
	}
	return vars, nil
}

// LocalFactory is the Factory used when running a service locally. Secrets
// come from a Secrets.toml file in Dir. Connection strings come from the
// ANNOBOOT_<KIND>_URL environment variable or, failing that, from a secret
// named <kind>_url.
type LocalFactory struct {
	Name string
	Dir  string
	// Getenv looks up environment variables. If nil, os.Getenv is used.
	Getenv func(string) string
}

// NewLocalFactory returns a factory for the named service that reads secrets
// from the given directory.
func NewLocalFactory(name, dir string) *LocalFactory {
	return &LocalFactory{Name: name, Dir: dir}
}

func (f *LocalFactory) ServiceName() string {
	return f.Name
}

// GetSecrets reads the secrets file. A missing file means there are no
// secrets. Values that are not strings are formatted, and nested tables are
// flattened with dotted keys.
func (f *LocalFactory) GetSecrets(ctx context.Context) (map[string]string, error) {
	path := filepath.Join(f.Dir, SecretsFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", path)
	}
	secrets := map[string]string{}
	flatten("", raw, secrets)
	return secrets, nil
}

func flatten(prefix string, raw map[string]interface{}, into map[string]string) {
	for k, v := range raw {
		switch v := v.(type) {
		case map[string]interface{}:
			flatten(prefix+k+".", v, into)
		case string:
			into[prefix+k] = v
		default:
			into[prefix+k] = fmt.Sprint(v)
		}
	}
}

// ConnectionEnvVar returns the environment variable that holds the
// connection string for the given kind of resource.
func ConnectionEnvVar(kind string) string {
	return "ANNOBOOT_" + strings.ToUpper(kind) + "_URL"
}

func (f *LocalFactory) ConnectionString(ctx context.Context, kind string) (string, error) {
	getenv := f.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if s := getenv(ConnectionEnvVar(kind)); s != "" {
		return s, nil
	}
	secrets, err := f.GetSecrets(ctx)
	if err != nil {
		return "", err
	}
	if s, ok := secrets[strings.ToLower(kind)+"_url"]; ok && s != "" {
		return s, nil
	}
	return "", errors.Wrapf(ErrNoConnectionString, "set %s or the %s_url secret for %s", ConnectionEnvVar(kind), strings.ToLower(kind), kind)
}

// SecretNames returns the sorted names of the given secrets. Values are never
// logged, only names.
func SecretNames(secrets map[string]string) []string {
	names := make([]string, 0, len(secrets))
	for k := range secrets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
