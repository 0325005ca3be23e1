package repository

import (
	"context"

	"github.com/ErlanBelekov/farm-market/internal/domain"
)

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
}
