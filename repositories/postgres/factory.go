package postgres

import (
	"github.com/upb/rag-gateway/config"
	"github.com/upb/rag-gateway/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all Postgres-backed repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the pool and creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositoryFactoryFromDB builds a factory over an already-open pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// NewRepositories creates all repository instances. The rate-limit store
// defaults to Postgres; callers may swap it for the Redis store.
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Documents:  NewDocumentRepository(f.db, f.logger),
		Tenants:    NewTenantRepository(f.db, f.logger),
		RateLimits: NewRateLimitRepository(f.db, f.logger),
		Usage:      NewUsageRepository(f.db, f.logger),
	}
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
