package settings

import (
	"context"
)

// Repository is the subset of the database store used for settings.
type Repository interface {
	LoadSettings(ctx context.Context, profile string) (map[string]interface{}, error)
	SaveSetting(ctx context.Context, profile, key string, value interface{}) error
}

// DBBackend keeps settings in the database under a profile name.
type DBBackend struct {
	repo    Repository
	profile string
}

// NewDBBackend creates a backend for profile.
func NewDBBackend(repo Repository, profile string) *DBBackend {
	return &DBBackend{repo: repo, profile: profile}
}

func (b *DBBackend) Load(ctx context.Context) (map[string]interface{}, error) {
	return b.repo.LoadSettings(ctx, b.profile)
}

func (b *DBBackend) Save(ctx context.Context, key string, value interface{}) error {
	return b.repo.SaveSetting(ctx, b.profile, key, value)
}
