package services

import (
	"context"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
)

// hasProctorAccess reports whether the user may read surveillance and audit
// data for sessions they do not own.
func hasProctorAccess(ctx context.Context, repo repositories.Repository, userID string) (bool, error) {
	isProctor, err := repo.User().HasRole(ctx, userID, models.RoleProctor)
	if err != nil {
		return false, err
	}
	if isProctor {
		return true, nil
	}
	return repo.User().HasRole(ctx, userID, models.RoleAdmin)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// pageFromFilters converts offset/limit pagination into the page/size pair
// the list responses carry.
func pageFromFilters(offset, limit int) (page, size int) {
	if limit <= 0 {
		return 1, 0
	}
	return offset/limit + 1, limit
}
