/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valpere/mdtran/internal/store"
	"github.com/valpere/mdtran/internal/translator"
)

const defaultDBPath = "./data/mdtran.db"

// buildClients constructs one completion client per credential, in order.
// Job i is later bound to client i mod len(clients).
func buildClients(apiKeys []string, baseURL string, timeout time.Duration, headers map[string]string) ([]translator.CompletionClient, error) {
	var list []translator.CompletionClient
	for i, key := range apiKeys {
		c, err := translator.NewOpenAIClient(fmt.Sprintf("key-%d", i+1), translator.ClientConfig{
			APIKey:  key,
			BaseURL: baseURL,
			Timeout: timeout,
			Headers: headers,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("no API keys configured (use --api-keys or %s_API_KEYS)", envPrefix)
	}
	return list, nil
}

// splitList flattens values that may each hold a comma or whitespace
// separated list, as they do when read from the environment.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, f := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' }) {
			out = append(out, f)
		}
	}
	return out
}

// parseHeaders turns "Name=value" pairs into a header map.
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected Name=value", p)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

func openStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
