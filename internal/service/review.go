package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/delivery-matching/internal/events"
	"github.com/example/delivery-matching/internal/models"
)

type MatchReader interface {
	GetMatch(ctx context.Context, id string) (models.Match, error)
}

type ReviewSubmitter interface {
	SubmitReview(ctx context.Context, matchID, reviewerID, revieweeID string, rating int, comment string) (models.Review, error)
}

// ReviewService lets a participant of a completed match review the other
// participant.
type ReviewService struct {
	Matches   MatchReader
	Ratings   ReviewSubmitter
	Publisher Publisher
	Logger    *slog.Logger
}

func (s *ReviewService) Submit(ctx context.Context, matchID, reviewerID string, rating int, comment string) (models.Review, error) {
	m, err := s.Matches.GetMatch(ctx, matchID)
	if err != nil {
		return models.Review{}, fmt.Errorf("service.ReviewService.Submit: %w", err)
	}
	if !m.HasParticipant(reviewerID) {
		return models.Review{}, fmt.Errorf("service.ReviewService.Submit: not a participant: %w", models.ErrPermissionDenied)
	}
	rev, err := s.Ratings.SubmitReview(ctx, m.ID, reviewerID, m.OtherParticipant(reviewerID), rating, comment)
	if err != nil {
		return models.Review{}, fmt.Errorf("service.ReviewService.Submit: %w", err)
	}

	e := events.New(events.ReviewCreated)
	e.ReviewID, e.UserID = rev.ID, rev.RevieweeID
	publish(ctx, s.Publisher, s.Logger, e)
	return rev, nil
}
