package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/dreamcanvas-backend/internal/logger"
	"github.com/yungbote/dreamcanvas-backend/internal/types"
)

type GenerationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, generations []*types.Generation) ([]*types.Generation, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Generation, error)

	// ListByUserID returns one page of a user's generations, newest first,
	// optionally filtered by status, along with the unpaginated total.
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, page, pageSize int, status string) ([]*types.Generation, int64, error)

	// ClaimNextRunnable claims the next generation that is runnable:
	// - status=pending
	// - OR status=failed and attempts < maxAttempts and last_error_at older than retryDelay (or NULL)
	// - OR status in-flight but heartbeat is stale (crash recovery)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.Generation, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CountForUserSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) (int64, error)
	FullDeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	repoLog := baseLog.With("repo", "GenerationRepo")
	return &generationRepo{db: db, log: repoLog}
}

func (r *generationRepo) Create(ctx context.Context, tx *gorm.DB, generations []*types.Generation) ([]*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(generations) == 0 {
		return []*types.Generation{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&generations).Error; err != nil {
		return nil, err
	}
	return generations, nil
}

func (r *generationRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Generation
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *generationRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, page, pageSize int, status string) ([]*types.Generation, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, 0, nil
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	base := transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("user_id = ?", userID)
	if status != "" {
		base = base.Where("status = ?", status)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var results []*types.Generation
	offset := (page - 1) * pageSize
	if err := base.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r *generationRepo) ClaimNextRunnable(
	ctx context.Context,
	tx *gorm.DB,
	maxAttempts int,
	retryDelay time.Duration,
	staleRunning time.Duration,
) (*types.Generation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	inFlight := []string{
		types.GenerationStatusProcessing,
		types.GenerationStatusEnhancing,
		types.GenerationStatusGenerating,
		types.GenerationStatusUploading,
	}

	var claimed *types.Generation

	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var gen types.Generation

		q := txx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status IN ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.GenerationStatusPending, types.GenerationStatusFailed, maxAttempts, retryCutoff, inFlight, staleCutoff).
			Order("created_at ASC")

		qErr := q.First(&gen).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		// Claim it: mark processing, increment attempts, set lock/heartbeat.
		uErr := txx.Model(&types.Generation{}).
			Where("id = ?", gen.ID).
			Updates(map[string]interface{}{
				"status":       types.GenerationStatusProcessing,
				"attempts":     gorm.Expr("attempts + 1"),
				"started_at":   now,
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		gen.Status = types.GenerationStatusProcessing
		gen.Attempts++
		gen.StartedAt = &now
		gen.LockedAt = &now
		gen.HeartbeatAt = &now
		claimed = &gen
		return nil
	})

	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *generationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *generationRepo) CountForUserSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Generation{}).
		Where("user_id = ?", userID).
		Where("created_at >= ?", since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *generationRepo) FullDeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("id IN ?", ids).
		Delete(&types.Generation{}).Error
}
