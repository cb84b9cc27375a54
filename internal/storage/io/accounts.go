package io

import (
	"context"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/slok/slotrunner/internal/model"
)

// AccountsRepository loads the accounts list from YAML or JSON files.
type AccountsRepository struct {
	fs fs.FS
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(filesystem fs.FS) *AccountsRepository {
	return &AccountsRepository{fs: filesystem}
}

// ListAccounts loads the accounts of a file. The file can have the accounts under
// an `accounts` key or be a bare list. JSON files are accepted as YAML.
func (r *AccountsRepository) ListAccounts(ctx context.Context, path string) ([]model.Account, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w: %w", err, model.ErrConfig)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing accounts: %w: %w", err, model.ErrConfig)
	}

	var accounts []AccountConfig
	if len(root.Content) > 0 {
		doc := root.Content[0]
		switch doc.Kind {
		case yaml.SequenceNode:
			err = doc.Decode(&accounts)
		case yaml.MappingNode:
			var file AccountsFile
			err = doc.Decode(&file)
			accounts = file.Accounts
		default:
			err = fmt.Errorf("accounts must be a list or have an accounts key")
		}
		if err != nil {
			return nil, fmt.Errorf("decoding accounts: %w: %w", err, model.ErrConfig)
		}
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("accounts file %s has no accounts: %w", path, model.ErrConfig)
	}

	seen := map[string]int{}
	res := make([]model.Account, 0, len(accounts))
	for i, a := range accounts {
		acc := a.toModel()
		if err := acc.Validate(); err != nil {
			return nil, fmt.Errorf("account %d: %w: %w", i+1, err, model.ErrConfig)
		}
		if prev, ok := seen[acc.Username]; ok {
			return nil, fmt.Errorf("account %d: duplicated username %q (account %d): %w", i+1, acc.Username, prev, model.ErrConfig)
		}
		seen[acc.Username] = i + 1
		res = append(res, acc)
	}

	return res, nil
}

// AccountsFile represents the structure of an accounts file with an accounts key.
type AccountsFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountConfig represents the structure of a single account.
type AccountConfig struct {
	Username  string         `yaml:"username"`
	Password  string         `yaml:"password"`
	Consulate string         `yaml:"consulate"`
	Form      map[string]any `yaml:"form"`
}

func (a AccountConfig) toModel() model.Account {
	var form map[string]string
	if len(a.Form) > 0 {
		form = make(map[string]string, len(a.Form))
		for k, v := range a.Form {
			if v == nil {
				form[k] = ""
				continue
			}
			form[k] = fmt.Sprint(v)
		}
	}

	return model.Account{
		Username:  a.Username,
		Password:  a.Password,
		Consulate: a.Consulate,
		Form:      form,
	}
}
