package service

import (
	"context"
	"encoding/json"
	"fmt"

	"anoa.com/refurnish/internal/entity"
	"anoa.com/refurnish/internal/event"
	notifRepo "anoa.com/refurnish/internal/modules/notification/repository"
	"anoa.com/refurnish/pkg/apperror"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelFor is the Redis channel that carries live notifications for a user.
func ChannelFor(userID string) string {
	return fmt.Sprintf("user_notifications:%s", userID)
}

type NotificationService interface {
	CreateNotification(ctx context.Context, notification *entity.Notification) error
	GetNotifications(ctx context.Context, userID string, limit, offset int) ([]entity.Notification, error)
	MarkAsRead(ctx context.Context, userID string, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)

	// HandleEvent turns achievement completions and level changes into notifications.
	HandleEvent(ctx context.Context, e event.Event) error
}

type notificationService struct {
	repo        notifRepo.NotificationRepository
	redisClient *redis.Client
	log         *zap.Logger
}

func NewNotificationService(repo notifRepo.NotificationRepository, redisClient *redis.Client, log *zap.Logger) NotificationService {
	return &notificationService{
		repo:        repo,
		redisClient: redisClient,
		log:         log.Named("notification"),
	}
}

func (s *notificationService) CreateNotification(ctx context.Context, notification *entity.Notification) error {
	if err := s.repo.Create(ctx, notification); err != nil {
		return apperror.Storage("create notification", err)
	}

	if s.redisClient != nil {
		payload, err := json.Marshal(notification)
		if err == nil {
			if err := s.redisClient.Publish(ctx, ChannelFor(notification.UserID), payload).Err(); err != nil {
				s.log.Warn("notification publish failed", zap.String("user_id", notification.UserID), zap.Error(err))
			}
		}
	}

	return nil
}

func (s *notificationService) HandleEvent(ctx context.Context, e event.Event) error {
	var n *entity.Notification

	switch e.Type {
	case event.TypeCompleted:
		if e.Achievement == nil {
			return nil
		}
		message := fmt.Sprintf("Achievement unlocked: %s", e.Achievement.Name)
		if e.Achievement.PointsReward > 0 {
			message = fmt.Sprintf("%s (+%d points)", message, e.Achievement.PointsReward)
		}
		n = &entity.Notification{
			UserID:     e.UserID,
			EntityID:   e.AchievementID,
			EntityType: "achievement",
			Type:       entity.NotificationAchievementUnlocked,
			Message:    message,
		}
	case event.TypeEarned:
		if e.NewLevel == nil {
			return nil
		}
		n = &entity.Notification{
			UserID:     e.UserID,
			EntityID:   e.TransactionID,
			EntityType: "points",
			Type:       entity.NotificationLevelUp,
			Message:    fmt.Sprintf("You reached level %d", *e.NewLevel),
		}
	default:
		return nil
	}

	return s.CreateNotification(ctx, n)
}

func (s *notificationService) GetNotifications(ctx context.Context, userID string, limit, offset int) ([]entity.Notification, error) {
	notifications, err := s.repo.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Storage("list notifications", err)
	}
	if notifications == nil {
		notifications = []entity.Notification{}
	}
	return notifications, nil
}

func (s *notificationService) MarkAsRead(ctx context.Context, userID string, id uuid.UUID) error {
	return apperror.Storage("mark notification read", s.repo.MarkAsRead(ctx, userID, id))
}

func (s *notificationService) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllAsRead(ctx, userID)
	return n, apperror.Storage("mark notifications read", err)
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	return n, apperror.Storage("count unread notifications", err)
}
