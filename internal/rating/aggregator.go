// Package rating records reviews of completed deliveries and keeps each
// user's aggregate rating in step with the reviews they received.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/delivery-matching/internal/models"
	"github.com/example/delivery-matching/internal/observability"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

type Store interface {
	GetMatch(ctx context.Context, id string) (models.Match, error)
	GetUser(ctx context.Context, uid string) (models.User, error)
	InsertReview(ctx context.Context, r models.Review) (models.Review, error)
	RatingsFor(ctx context.Context, revieweeID string) ([]int, error)
	ListReviewsFor(ctx context.Context, revieweeID string, limit int) ([]models.Review, error)
	SetUserRating(ctx context.Context, uid string, rating float64, count int) error
}

type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) error
}

type Aggregator struct {
	Store    Store
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// SubmitReview stores a review of revieweeID by reviewerID for a completed
// match and recomputes the reviewee's aggregate.
func (a *Aggregator) SubmitReview(ctx context.Context, matchID, reviewerID, revieweeID string, rating int, comment string) (models.Review, error) {
	if rating < MinRating || rating > MaxRating {
		return models.Review{}, fmt.Errorf("rating.Aggregator.SubmitReview: rating %d out of range: %w", rating, models.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return models.Review{}, fmt.Errorf("rating.Aggregator.SubmitReview: comment too long: %w", models.ErrInvalidArgument)
	}

	match, err := a.Store.GetMatch(ctx, matchID)
	if err != nil {
		return models.Review{}, fmt.Errorf("rating.Aggregator.SubmitReview: %w", err)
	}
	if !match.HasParticipant(reviewerID) {
		return models.Review{}, fmt.Errorf("rating.Aggregator.SubmitReview: reviewer %s: %w", reviewerID, models.ErrPermissionDenied)
	}
	if match.Status != models.MatchCompleted {
		return models.Review{}, fmt.Errorf("rating.Aggregator.SubmitReview: match is %s: %w", match.Status, models.ErrInvalidState)
	}
	if revieweeID == reviewerID || !match.HasParticipant(revieweeID) {
		return models.Review{}, fmt.Errorf("rating.Aggregator.SubmitReview: reviewee must be the other participant: %w", models.ErrInvalidArgument)
	}

	review, err := a.Store.InsertReview(ctx, models.Review{
		ID:         uuid.NewString(),
		MatchID:    matchID,
		ReviewerID: reviewerID,
		RevieweeID: revieweeID,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  a.now(),
	})
	if err != nil {
		return models.Review{}, fmt.Errorf("rating.Aggregator.SubmitReview: %w", err)
	}
	observability.ReviewsTotal.Inc()

	// The review.created event recomputes again, so a failure here heals.
	if _, _, err := a.Recompute(ctx, revieweeID); err != nil {
		a.logger().Error("rating recompute failed", "user_id", revieweeID, "review_id", review.ID, "error", err)
	}

	a.notify(ctx, revieweeID, models.Notification{
		Type:  models.NotifyReviewReceived,
		Title: "New review received",
		Body:  fmt.Sprintf("%s left you a %d-star review.", a.reviewerName(ctx, match, reviewerID), rating),
		Data:  map[string]string{"match_id": matchID, "rating": strconv.Itoa(rating)},
	})
	return review, nil
}

// Recompute rebuilds uid's rating from every review they received:
// the mean rounded to one decimal, and the review count. A user with no
// reviews is left untouched.
func (a *Aggregator) Recompute(ctx context.Context, uid string) (float64, int, error) {
	ratings, err := a.Store.RatingsFor(ctx, uid)
	if err != nil {
		return 0, 0, fmt.Errorf("rating.Aggregator.Recompute: %w", err)
	}
	if len(ratings) == 0 {
		return 0, 0, nil
	}
	avg := Average(ratings)
	if err := a.Store.SetUserRating(ctx, uid, avg, len(ratings)); err != nil {
		return 0, 0, fmt.Errorf("rating.Aggregator.Recompute: %w", err)
	}
	return avg, len(ratings), nil
}

func (a *Aggregator) ListReviews(ctx context.Context, uid string, limit int) ([]models.Review, error) {
	out, err := a.Store.ListReviewsFor(ctx, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("rating.Aggregator.ListReviews: %w", err)
	}
	return out, nil
}

// Average is the arithmetic mean of ratings rounded to one decimal.
func Average(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return math.Round(float64(sum)/float64(len(ratings))*10) / 10
}

func (a *Aggregator) reviewerName(ctx context.Context, match models.Match, uid string) string {
	u, err := a.Store.GetUser(ctx, uid)
	if err == nil && u.DisplayName != "" {
		return u.DisplayName
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		a.logger().Warn("user lookup failed", "user_id", uid, "error", err)
	}
	if uid == match.TravelerID && match.TravelerName != "" {
		return match.TravelerName
	}
	if uid == match.RequesterID && match.RequesterName != "" {
		return match.RequesterName
	}
	return "Someone"
}

func (a *Aggregator) notify(ctx context.Context, userID string, n models.Notification) {
	if a.Notifier == nil {
		return
	}
	if err := a.Notifier.Notify(ctx, userID, n); err != nil {
		a.logger().Warn("notification failed", "user_id", userID, "type", n.Type, "error", err)
	}
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

func (a *Aggregator) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
