package inapp

import (
	"context"

	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type Service struct {
	repo *Repository
	log  *logger.Logger
}

func NewService(repo *Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

type SendParams struct {
	OrgID    uuid.UUID
	UserID   uuid.UUID
	LeadID   *uuid.UUID
	Title    string
	Content  string
	Category string // "info", "warning", "error"
}

// Send persists the notification for the agent's inbox.
func (s *Service) Send(ctx context.Context, p SendParams) error {
	if _, err := s.repo.Create(ctx, CreateParams{
		OrganizationID: p.OrgID,
		UserID:         p.UserID,
		LeadID:         p.LeadID,
		Title:          p.Title,
		Content:        p.Content,
		Category:       p.Category,
	}); err != nil {
		s.log.Error("failed to persist in-app notification", "error", err, "userId", p.UserID)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]Notification, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	return s.repo.List(ctx, userID, pageSize, (page-1)*pageSize)
}

func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.repo.MarkRead(ctx, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllRead(ctx, userID)
}
