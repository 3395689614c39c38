package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/famewatch/enricher/internal/catalog"
)

// maxIndexedKeys bounds the SEARCH_API_KEY_n scan.
const maxIndexedKeys = 9

// LoadAPIKeys reads API keys from the environment. Two formats are
// recognized, tried in order:
//
//	<PREFIX>_API_KEY_1 .. <PREFIX>_API_KEY_9   individual keys
//	<PREFIX>_API_KEYS=key1|key2|key3           combined format
//
// falling back to the single <PREFIX>_API_KEY. Missing keys are not an
// error; the returned slice may be empty.
func LoadAPIKeys(prefix string) []catalog.Credential {
	var keys []string

	for i := 1; i <= maxIndexedKeys; i++ {
		if key := os.Getenv(fmt.Sprintf("%s_API_KEY_%d", prefix, i)); key != "" {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		if combined := os.Getenv(prefix + "_API_KEYS"); combined != "" {
			for _, k := range strings.Split(combined, "|") {
				if k = strings.TrimSpace(k); k != "" {
					keys = append(keys, k)
				}
			}
		}
	}

	if len(keys) == 0 {
		if single := os.Getenv(prefix + "_API_KEY"); single != "" {
			keys = append(keys, single)
		}
	}

	credentials := make([]catalog.Credential, 0, len(keys))
	for i, key := range keys {
		credentials = append(credentials, catalog.Credential{
			ID:     fmt.Sprintf("%s-key-%d", strings.ToLower(prefix), i+1),
			Kind:   catalog.CredentialAPIKey,
			Secret: key,
		})
	}
	return credentials
}

type accountDoc struct {
	Accounts []struct {
		AccountID string `json:"account_id"`
		Username  string `json:"username"`
		Password  string `json:"password"`
	} `json:"accounts"`
}

// ParseAccounts decodes an account list document (originally a secrets
// manager payload) into account credentials.
func ParseAccounts(data []byte) ([]catalog.Credential, error) {
	var doc accountDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse accounts document: %w", err)
	}
	credentials := make([]catalog.Credential, 0, len(doc.Accounts))
	for i, a := range doc.Accounts {
		id := a.AccountID
		if id == "" {
			id = fmt.Sprintf("account-%d", i+1)
		}
		credentials = append(credentials, catalog.Credential{
			ID:       id,
			Kind:     catalog.CredentialAccount,
			Username: a.Username,
			Secret:   a.Password,
		})
	}
	return credentials, nil
}

type proxyDoc struct {
	Proxies []struct {
		ProxyID string `json:"proxy_id"`
		URL     string `json:"url"`
	} `json:"proxies"`
}

// ParseProxies decodes a proxy list document into proxy credentials.
func ParseProxies(data []byte) ([]catalog.Credential, error) {
	var doc proxyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse proxies document: %w", err)
	}
	credentials := make([]catalog.Credential, 0, len(doc.Proxies))
	for i, p := range doc.Proxies {
		id := p.ProxyID
		if id == "" {
			id = fmt.Sprintf("proxy-%d", i+1)
		}
		credentials = append(credentials, catalog.Credential{
			ID:       id,
			Kind:     catalog.CredentialProxy,
			Endpoint: p.URL,
		})
	}
	return credentials, nil
}

// LoadAccountsFromEnv reads the account document from <PREFIX>_ACCOUNTS.
// An unset variable yields an empty list, not an error.
func LoadAccountsFromEnv(prefix string) ([]catalog.Credential, error) {
	raw := os.Getenv(prefix + "_ACCOUNTS")
	if raw == "" {
		return nil, nil
	}
	return ParseAccounts([]byte(raw))
}

// LoadProxiesFromEnv reads the proxy document from <PREFIX>_PROXIES.
func LoadProxiesFromEnv(prefix string) ([]catalog.Credential, error) {
	raw := os.Getenv(prefix + "_PROXIES")
	if raw == "" {
		return nil, nil
	}
	return ParseProxies([]byte(raw))
}
