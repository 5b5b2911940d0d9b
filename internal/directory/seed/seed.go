// Package seed loads tenant registrations from a YAML file and applies
// them to a directory.Repository.
//
//	directories:
//	  - clientId: clientid
//	    clientSecret: secret
//	    tenantId: ed0dd5aa6f3f4c368a53ede9ea77a140
//	    directoryDomain: "@foo1.ms.com"
//	    refId: 1
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/directory-auth/internal/directory"
	"github.com/openkcm/directory-auth/internal/serviceerr"
)

type entry struct {
	ClientID        string  `yaml:"clientId"`
	ClientSecret    string  `yaml:"clientSecret"`
	TenantID        string  `yaml:"tenantId"`
	DirectoryDomain string  `yaml:"directoryDomain"`
	RefID           *int64  `yaml:"refId"`
	RefIDStr        *string `yaml:"refIdStr"`
}

type document struct {
	Directories []map[string]any `yaml:"directories"`
}

// LoadFile reads registrations from the YAML file at path.
func LoadFile(path string) ([]directory.Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	return Parse(data)
}

// Parse decodes registrations. Scalars are converted loosely, so a refId
// may be given as number or string.
func Parse(data []byte) ([]directory.Registration, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing seed yaml: %w", err)
	}

	regs := make([]directory.Registration, 0, len(doc.Directories))
	for i, raw := range doc.Directories {
		var e entry
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &e,
			TagName:          "yaml",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating decoder: %w", err)
		}

		if err := dec.Decode(raw); err != nil {
			return nil, fmt.Errorf("decoding directory %d: %w", i, err)
		}

		regs = append(regs, directory.Registration{
			ClientID:        e.ClientID,
			ClientSecret:    e.ClientSecret,
			TenantID:        e.TenantID,
			DirectoryDomain: e.DirectoryDomain,
			RefID:           e.RefID,
			RefIDStr:        e.RefIDStr,
		})
	}

	return regs, nil
}

// Apply registers every registration. Already registered ones are skipped;
// it returns the number of new registrations.
func Apply(ctx context.Context, repo directory.Repository, regs []directory.Registration) (int, error) {
	created := 0
	for _, reg := range regs {
		stored, err := repo.Register(ctx, reg)
		if err != nil {
			if errors.Is(err, serviceerr.ErrConflict) {
				slogctx.Info(ctx, "Skipping seeded directory", "directory_domain", reg.DirectoryDomain, "reason", err.Error())
				continue
			}

			return created, fmt.Errorf("registering seeded directory %s: %w", reg.DirectoryDomain, err)
		}

		slogctx.Info(ctx, "Registered seeded directory", "registration", stored)
		created++
	}

	return created, nil
}
