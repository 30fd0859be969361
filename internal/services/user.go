package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dreamcanvas-backend/internal/logger"
	"github.com/yungbote/dreamcanvas-backend/internal/normalization"
	"github.com/yungbote/dreamcanvas-backend/internal/repos"
	"github.com/yungbote/dreamcanvas-backend/internal/requestdata"
	"github.com/yungbote/dreamcanvas-backend/internal/types"
)

type UpdateProfileInput struct {
	DisplayName *string        `json:"display_name"`
	Bio         *string        `json:"bio"`
	Preferences map[string]any `json:"preferences"`
}

type UserService interface {
	GetMe(ctx context.Context) (*types.User, error)
	UpdateMe(ctx context.Context, input UpdateProfileInput) (*types.User, error)
}

type userService struct {
	db       *gorm.DB
	log      *logger.Logger
	userRepo repos.UserRepo
}

func NewUserService(db *gorm.DB, log *logger.Logger, userRepo repos.UserRepo) UserService {
	serviceLog := log.With("service", "UserService")
	return &userService{db: db, log: serviceLog, userRepo: userRepo}
}

func (us *userService) GetMe(ctx context.Context) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	users, err := us.userRepo.GetByIDs(ctx, nil, []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, fmt.Errorf("Failed to load user: %w", err)
	}
	if len(users) == 0 || users[0] == nil {
		return nil, fmt.Errorf("user not found")
	}
	return users[0], nil
}

func (us *userService) UpdateMe(ctx context.Context, input UpdateProfileInput) (*types.User, error) {
	user, err := us.GetMe(ctx)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.DisplayName != nil {
		updates["display_name"] = normalization.TrimInputString(*input.DisplayName)
	}
	if input.Bio != nil {
		updates["bio"] = normalization.TrimInputString(*input.Bio)
	}
	if input.Preferences != nil {
		merged, mErr := MergePreferences(user.Preferences, input.Preferences)
		if mErr != nil {
			return nil, mErr
		}
		updates["preferences"] = merged
	}
	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = time.Now()

	if err := us.userRepo.UpdateFields(ctx, nil, user.ID, updates); err != nil {
		return nil, fmt.Errorf("Failed to update user: %w", err)
	}
	return us.GetMe(ctx)
}

// MergePreferences shallow-merges new preference keys over the stored JSON
// object; keys absent from the update are preserved.
func MergePreferences(existing datatypes.JSON, updates map[string]any) (datatypes.JSON, error) {
	prefs := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &prefs); err != nil {
			return nil, fmt.Errorf("Failed to decode stored preferences: %w", err)
		}
	}
	for k, v := range updates {
		prefs[k] = v
	}
	out, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode preferences: %w", err)
	}
	return datatypes.JSON(out), nil
}
