package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials resolves channel credential references to opaque bearer tokens.
// Token issuance and refresh live outside the orchestrator; this is a
// read-only view over a credentials file, with environment override per ref.
type Credentials struct {
	tokens map[string]string
}

type credentialsFile struct {
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
}

// LoadCredentials reads the credentials file. A missing file yields an empty
// resolver so environment-only setups still work.
func LoadCredentials(path string) (*Credentials, error) {
	c := &Credentials{tokens: map[string]string{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode credentials file: %w", err)
	}
	for ref, token := range file.Credentials {
		ref = strings.TrimSpace(ref)
		token = strings.TrimSpace(token)
		if ref == "" || token == "" {
			continue
		}
		c.tokens[ref] = token
	}
	return c, nil
}

// Resolve returns the token for the credential reference. The environment
// variable CREDENTIAL_<REF> (uppercased, dashes replaced) takes precedence.
func (c *Credentials) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty credential reference")
	}

	envKey := "CREDENTIAL_" + strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	if tok, ok := c.tokens[ref]; ok {
		return tok, nil
	}
	return "", fmt.Errorf("unknown credential reference %q", ref)
}
