package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/delivery-matching/internal/models"
)

const pgUniqueViolation = "23505"

// DB is satisfied by *pgxpool.Pool and pgx.Tx. Tests pass a transaction that
// is rolled back on cleanup.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// users

const userColumns = `uid, display_name, photo_url, rating, review_count, trips_count,
	requests_count, completed_deliveries, created_at, updated_at`

func (p *PostgresStore) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	q := `
		INSERT INTO users (uid, display_name, photo_url, created_at, updated_at)
		VALUES (@uid, @display_name, @photo_url, @created_at, @created_at)
		ON CONFLICT (uid) DO NOTHING
		RETURNING ` + userColumns

	row := p.db.QueryRow(ctx, q, pgx.NamedArgs{
		"uid":          u.UID,
		"display_name": u.DisplayName,
		"photo_url":    u.PhotoURL,
		"created_at":   u.CreatedAt,
	})
	out, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("storage.PostgresStore.CreateUser: %w", models.ErrAlreadyExists)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("storage.PostgresStore.CreateUser: %w", mapErr(err))
	}
	return out, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, uid string) (models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE uid = @uid`
	out, err := scanUser(p.db.QueryRow(ctx, q, pgx.NamedArgs{"uid": uid}))
	if err != nil {
		return models.User{}, fmt.Errorf("storage.PostgresStore.GetUser: %w", mapErr(err))
	}
	return out, nil
}

// CountCreation flags the document and upserts the owner's counter in one
// statement, so a retried event cannot count the same trip twice.
func (p *PostgresStore) CountCreation(ctx context.Context, ref models.MatchRef, id string) (bool, error) {
	var table, owner, col string
	switch ref {
	case models.RefTrip:
		table, owner, col = "trips", "traveler_id", "trips_count"
	case models.RefRequest:
		table, owner, col = "requests", "requester_id", "requests_count"
	default:
		return false, fmt.Errorf("storage.PostgresStore.CountCreation: unknown ref %q: %w", ref, models.ErrInvalidArgument)
	}
	q := `
		WITH marked AS (
			UPDATE ` + table + `
			SET creation_counted = true
			WHERE id = @id AND NOT creation_counted
			RETURNING ` + owner + ` AS uid
		)
		INSERT INTO users (uid, ` + col + `)
		SELECT uid, 1 FROM marked
		ON CONFLICT (uid) DO UPDATE
		SET ` + col + ` = users.` + col + ` + 1,
		    updated_at = now()
		RETURNING uid`

	var uid string
	err := p.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}).Scan(&uid)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("storage.PostgresStore.CountCreation: %w", err)
	}

	var exists bool
	if err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = @id)`,
		pgx.NamedArgs{"id": id}).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage.PostgresStore.CountCreation: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("storage.PostgresStore.CountCreation: %s %s: %w", ref, id, models.ErrNotFound)
	}
	return false, nil
}

func (p *PostgresStore) SetUserRating(ctx context.Context, uid string, rating float64, count int) error {
	const q = `
		INSERT INTO users (uid, rating, review_count)
		VALUES (@uid, @rating, @count)
		ON CONFLICT (uid) DO UPDATE
		SET rating = EXCLUDED.rating,
		    review_count = EXCLUDED.review_count,
		    updated_at = now()`

	if _, err := p.db.Exec(ctx, q, pgx.NamedArgs{"uid": uid, "rating": rating, "count": count}); err != nil {
		return fmt.Errorf("storage.PostgresStore.SetUserRating: %w", err)
	}
	return nil
}

// trips

const tripColumns = `doc, status, available_capacity_kg, cancel_reason, updated_at`

func (p *PostgresStore) CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	t.Normalize()
	doc, err := json.Marshal(t)
	if err != nil {
		return models.Trip{}, fmt.Errorf("storage.PostgresStore.CreateTrip: encode: %w", err)
	}
	q := `
		INSERT INTO trips (id, traveler_id, status, destination_country, departure_date,
		                   available_capacity_kg, schema_version, doc, created_at, updated_at)
		VALUES (@id, @traveler_id, @status, @destination_country, @departure_date,
		        @capacity, @schema_version, @doc, @created_at, @updated_at)
		RETURNING ` + tripColumns

	out, err := scanTrip(p.db.QueryRow(ctx, q, pgx.NamedArgs{
		"id":                  t.ID,
		"traveler_id":         t.TravelerID,
		"status":              string(t.Status),
		"destination_country": t.DestinationCountry,
		"departure_date":      t.DepartureDate,
		"capacity":            t.AvailableCapacityKg,
		"schema_version":      t.SchemaVersion,
		"doc":                 doc,
		"created_at":          t.CreatedAt,
		"updated_at":          t.UpdatedAt,
	}))
	if err != nil {
		return models.Trip{}, fmt.Errorf("storage.PostgresStore.CreateTrip: %w", mapErr(err))
	}
	return out, nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (models.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE id = @id`
	out, err := scanTrip(p.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return models.Trip{}, fmt.Errorf("storage.PostgresStore.GetTrip: %w", mapErr(err))
	}
	return out, nil
}

func (p *PostgresStore) ActiveTripsTo(ctx context.Context, country string) ([]models.Trip, error) {
	q := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE status = 'active' AND destination_country = @country
		ORDER BY created_at, id`

	rows, err := p.db.Query(ctx, q, pgx.NamedArgs{"country": country})
	if err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ActiveTripsTo: %w", err)
	}
	defer rows.Close()

	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.PostgresStore.ActiveTripsTo: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ActiveTripsTo: rows: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) UpdateTripStatus(ctx context.Context, id string, from, to models.TripStatus, reason string, at time.Time) error {
	const q = `
		UPDATE trips
		SET status = @to,
		    cancel_reason = COALESCE(NULLIF(@reason::text, ''), cancel_reason),
		    updated_at = @at
		WHERE id = @id AND status = @from`

	tag, err := p.db.Exec(ctx, q, pgx.NamedArgs{
		"id": id, "from": string(from), "to": string(to), "reason": reason, "at": at,
	})
	if err != nil {
		return fmt.Errorf("storage.PostgresStore.UpdateTripStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage.PostgresStore.UpdateTripStatus: %w", missOrConflict(ctx, p.db, "trips", id))
	}
	return nil
}

func (p *PostgresStore) UpdateTripCapacity(ctx context.Context, id string, kg float64, at time.Time) (models.Trip, error) {
	q := `
		UPDATE trips
		SET available_capacity_kg = @kg, updated_at = @at
		WHERE id = @id AND status = 'active'
		RETURNING ` + tripColumns

	out, err := scanTrip(p.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "kg": kg, "at": at}))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Trip{}, fmt.Errorf("storage.PostgresStore.UpdateTripCapacity: %w", missOrConflict(ctx, p.db, "trips", id))
	}
	if err != nil {
		return models.Trip{}, fmt.Errorf("storage.PostgresStore.UpdateTripCapacity: %w", err)
	}
	return out, nil
}

// requests

const requestColumns = `doc, status, weight_kg, cancel_reason, updated_at`

func (p *PostgresStore) CreateRequest(ctx context.Context, r models.Request) (models.Request, error) {
	r.Normalize()
	doc, err := json.Marshal(r)
	if err != nil {
		return models.Request{}, fmt.Errorf("storage.PostgresStore.CreateRequest: encode: %w", err)
	}
	q := `
		INSERT INTO requests (id, requester_id, status, delivery_country, deadline,
		                      weight_kg, schema_version, doc, created_at, updated_at)
		VALUES (@id, @requester_id, @status, @delivery_country, @deadline,
		        @weight_kg, @schema_version, @doc, @created_at, @updated_at)
		RETURNING ` + requestColumns

	out, err := scanRequest(p.db.QueryRow(ctx, q, pgx.NamedArgs{
		"id":               r.ID,
		"requester_id":     r.RequesterID,
		"status":           string(r.Status),
		"delivery_country": r.DeliveryCountry,
		"deadline":         r.Deadline,
		"weight_kg":        r.WeightKg,
		"schema_version":   r.SchemaVersion,
		"doc":              doc,
		"created_at":       r.CreatedAt,
		"updated_at":       r.UpdatedAt,
	}))
	if err != nil {
		return models.Request{}, fmt.Errorf("storage.PostgresStore.CreateRequest: %w", mapErr(err))
	}
	return out, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (models.Request, error) {
	q := `SELECT ` + requestColumns + ` FROM requests WHERE id = @id`
	out, err := scanRequest(p.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return models.Request{}, fmt.Errorf("storage.PostgresStore.GetRequest: %w", mapErr(err))
	}
	return out, nil
}

func (p *PostgresStore) ActiveRequestsTo(ctx context.Context, country string) ([]models.Request, error) {
	q := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'active' AND delivery_country = @country
		ORDER BY created_at, id`

	rows, err := p.db.Query(ctx, q, pgx.NamedArgs{"country": country})
	if err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ActiveRequestsTo: %w", err)
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.PostgresStore.ActiveRequestsTo: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ActiveRequestsTo: rows: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, from, to models.RequestStatus, reason string, at time.Time) error {
	const q = `
		UPDATE requests
		SET status = @to,
		    cancel_reason = COALESCE(NULLIF(@reason::text, ''), cancel_reason),
		    updated_at = @at
		WHERE id = @id AND status = @from`

	tag, err := p.db.Exec(ctx, q, pgx.NamedArgs{
		"id": id, "from": string(from), "to": string(to), "reason": reason, "at": at,
	})
	if err != nil {
		return fmt.Errorf("storage.PostgresStore.UpdateRequestStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage.PostgresStore.UpdateRequestStatus: %w", missOrConflict(ctx, p.db, "requests", id))
	}
	return nil
}

// matches

const matchColumns = `id, trip_id, request_id, traveler_id, requester_id, participants, status,
	traveler_name, traveler_photo, traveler_rating, requester_name, requester_photo, requester_rating,
	item_title, route, agreed_price, trip_date,
	last_message, last_message_at, last_message_sender_id,
	accepted_by, accepted_at, rejected_by, rejected_at, completed_by, completed_at,
	cancelled_by, cancelled_at, cancel_reason, payment_intent_id, created_at, updated_at`

func (p *PostgresStore) MatchExists(ctx context.Context, tripID, requestID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM matches WHERE trip_id = @trip_id AND request_id = @request_id)`
	var ok bool
	if err := p.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID, "request_id": requestID}).Scan(&ok); err != nil {
		return false, fmt.Errorf("storage.PostgresStore.MatchExists: %w", err)
	}
	return ok, nil
}

// InsertMatch relies on the (trip_id, request_id) unique key: the losing
// writer of a race gets no row back and sees ErrAlreadyExists.
func (p *PostgresStore) InsertMatch(ctx context.Context, m models.Match) (models.Match, error) {
	q := `
		INSERT INTO matches (id, trip_id, request_id, traveler_id, requester_id, participants, status,
		                     traveler_name, traveler_photo, traveler_rating,
		                     requester_name, requester_photo, requester_rating,
		                     item_title, route, agreed_price, trip_date, created_at, updated_at)
		VALUES (@id, @trip_id, @request_id, @traveler_id, @requester_id, @participants, @status,
		        @traveler_name, @traveler_photo, @traveler_rating,
		        @requester_name, @requester_photo, @requester_rating,
		        @item_title, @route, @agreed_price, @trip_date, @created_at, @updated_at)
		ON CONFLICT ON CONSTRAINT matches_trip_request_key DO NOTHING
		RETURNING ` + matchColumns

	out, err := scanMatch(p.db.QueryRow(ctx, q, pgx.NamedArgs{
		"id":               m.ID,
		"trip_id":          m.TripID,
		"request_id":       m.RequestID,
		"traveler_id":      m.TravelerID,
		"requester_id":     m.RequesterID,
		"participants":     m.Participants,
		"status":           string(m.Status),
		"traveler_name":    m.TravelerName,
		"traveler_photo":   m.TravelerPhoto,
		"traveler_rating":  m.TravelerRating,
		"requester_name":   m.RequesterName,
		"requester_photo":  m.RequesterPhoto,
		"requester_rating": m.RequesterRating,
		"item_title":       m.ItemTitle,
		"route":            m.Route,
		"agreed_price":     m.AgreedPrice,
		"trip_date":        m.TripDate,
		"created_at":       m.CreatedAt,
		"updated_at":       m.UpdatedAt,
	}))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Match{}, fmt.Errorf("storage.PostgresStore.InsertMatch: pair %s/%s: %w", m.TripID, m.RequestID, models.ErrAlreadyExists)
	}
	if err != nil {
		return models.Match{}, fmt.Errorf("storage.PostgresStore.InsertMatch: %w", mapErr(err))
	}
	return out, nil
}

func (p *PostgresStore) GetMatch(ctx context.Context, id string) (models.Match, error) {
	q := `SELECT ` + matchColumns + ` FROM matches WHERE id = @id`
	out, err := scanMatch(p.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return models.Match{}, fmt.Errorf("storage.PostgresStore.GetMatch: %w", mapErr(err))
	}
	return out, nil
}

const matchFilterWhere = `
		WHERE (@participant::text = '' OR @participant::text = ANY (participants))
		  AND (@trip_id::text = '' OR trip_id = @trip_id::text)
		  AND (@request_id::text = '' OR request_id = @request_id::text)
		  AND (cardinality(@statuses::text[]) = 0 OR status = ANY (@statuses::text[]))`

func filterArgs(f models.MatchFilter) pgx.NamedArgs {
	statuses := models.StatusStrings(f.Statuses)
	args := pgx.NamedArgs{
		"participant": f.ParticipantID,
		"trip_id":     f.TripID,
		"request_id":  f.RequestID,
		"statuses":    statuses,
		"limit":       nil,
	}
	if f.Limit > 0 {
		args["limit"] = f.Limit
	}
	return args
}

// ListMatches returns matches newest first.
func (p *PostgresStore) ListMatches(ctx context.Context, f models.MatchFilter) ([]models.Match, error) {
	q := `SELECT ` + matchColumns + ` FROM matches` + matchFilterWhere + `
		ORDER BY created_at DESC, id
		LIMIT @limit`

	rows, err := p.db.Query(ctx, q, filterArgs(f))
	if err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ListMatches: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.PostgresStore.ListMatches: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ListMatches: rows: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) CountMatches(ctx context.Context, f models.MatchFilter) (int, error) {
	args := filterArgs(f)
	delete(args, "limit")
	var n int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM matches`+matchFilterWhere, args).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.PostgresStore.CountMatches: %w", err)
	}
	return n, nil
}

// TransitionMatch applies tr and its side effects in one transaction. The
// status precondition is part of the UPDATE, so of two racing callers only
// one gets a row back.
func (p *PostgresStore) TransitionMatch(ctx context.Context, tr models.Transition) (models.Match, error) {
	set := `status = @to, updated_at = @at`
	switch tr.To {
	case models.MatchAccepted:
		set += `, accepted_by = @actor, accepted_at = @at`
	case models.MatchRejected:
		set += `, rejected_by = @actor, rejected_at = @at`
	case models.MatchCompleted:
		set += `, completed_by = @actor, completed_at = @at`
	case models.MatchCancelled:
		set += `, cancelled_by = @actor, cancelled_at = @at, cancel_reason = @reason`
	}
	if tr.PaymentIntentID != "" {
		set += `, payment_intent_id = @payment_intent_id`
	}
	q := `UPDATE matches SET ` + set + ` WHERE id = @id AND status = ANY (@from) RETURNING ` + matchColumns

	var out models.Match
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		m, err := scanMatch(tx.QueryRow(ctx, q, pgx.NamedArgs{
			"id":                tr.MatchID,
			"from":              models.StatusStrings(tr.From),
			"to":                string(tr.To),
			"actor":             tr.Actor,
			"at":                tr.At,
			"reason":            tr.CancelReason,
			"payment_intent_id": tr.PaymentIntentID,
		}))
		if errors.Is(err, pgx.ErrNoRows) {
			return missOrConflict(ctx, tx, "matches", tr.MatchID)
		}
		if err != nil {
			return err
		}

		if tr.RequestStatus != "" {
			const rq = `
				UPDATE requests SET status = @status, updated_at = @at
				WHERE id = @id AND (cardinality(@from::text[]) = 0 OR status = ANY (@from))`
			tag, err := tx.Exec(ctx, rq, pgx.NamedArgs{
				"id":     m.RequestID,
				"status": string(tr.RequestStatus),
				"from":   models.StatusStrings(tr.RequestFrom),
				"at":     tr.At,
			})
			if err != nil {
				return fmt.Errorf("request status: %w", err)
			}
			if tag.RowsAffected() == 0 && len(tr.RequestFrom) > 0 {
				return fmt.Errorf("request is no longer %v: %w", tr.RequestFrom, models.ErrInvalidState)
			}
		}
		if tr.CompleteDelivery {
			const uq = `
				INSERT INTO users (uid, completed_deliveries)
				SELECT unnest(@uids::text[]), 1
				ON CONFLICT (uid) DO UPDATE
				SET completed_deliveries = users.completed_deliveries + 1,
				    updated_at = @at`
			if _, err := tx.Exec(ctx, uq, pgx.NamedArgs{"uids": m.Participants, "at": tr.At}); err != nil {
				return fmt.Errorf("completed deliveries: %w", err)
			}
		}
		out = m
		return nil
	})
	if err != nil {
		return models.Match{}, fmt.Errorf("storage.PostgresStore.TransitionMatch: %w", err)
	}
	return out, nil
}

// CancelPendingMatches withdraws up to limit pending matches in a single
// statement. SKIP LOCKED leaves rows held by a concurrent accept to that
// transaction; the status recheck in the outer WHERE keeps the result exact.
func (p *PostgresStore) CancelPendingMatches(ctx context.Context, ref models.MatchRef, id, reason string, at time.Time, limit int) (int, error) {
	var col string
	switch ref {
	case models.RefTrip:
		col = "trip_id"
	case models.RefRequest:
		col = "request_id"
	default:
		return 0, fmt.Errorf("storage.PostgresStore.CancelPendingMatches: unknown ref %q: %w", ref, models.ErrInvalidArgument)
	}
	q := `
		UPDATE matches
		SET status = 'cancelled', cancel_reason = @reason, cancelled_at = @at, updated_at = @at
		WHERE status = 'pending' AND id IN (
			SELECT id FROM matches
			WHERE ` + col + ` = @id AND status = 'pending'
			ORDER BY created_at, id
			LIMIT @limit
			FOR UPDATE SKIP LOCKED
		)`

	tag, err := p.db.Exec(ctx, q, pgx.NamedArgs{"id": id, "reason": reason, "at": at, "limit": clampLimit(limit)})
	if err != nil {
		return 0, fmt.Errorf("storage.PostgresStore.CancelPendingMatches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// reviews

const reviewColumns = `id, match_id, reviewer_id, reviewee_id, rating, comment, created_at`

func (p *PostgresStore) InsertReview(ctx context.Context, r models.Review) (models.Review, error) {
	q := `
		INSERT INTO reviews (id, match_id, reviewer_id, reviewee_id, rating, comment, created_at)
		VALUES (@id, @match_id, @reviewer_id, @reviewee_id, @rating, @comment, @created_at)
		ON CONFLICT ON CONSTRAINT reviews_match_reviewer_key DO NOTHING
		RETURNING ` + reviewColumns

	out, err := scanReview(p.db.QueryRow(ctx, q, pgx.NamedArgs{
		"id":          r.ID,
		"match_id":    r.MatchID,
		"reviewer_id": r.ReviewerID,
		"reviewee_id": r.RevieweeID,
		"rating":      r.Rating,
		"comment":     r.Comment,
		"created_at":  r.CreatedAt,
	}))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Review{}, fmt.Errorf("storage.PostgresStore.InsertReview: %w", models.ErrAlreadyExists)
	}
	if err != nil {
		return models.Review{}, fmt.Errorf("storage.PostgresStore.InsertReview: %w", mapErr(err))
	}
	return out, nil
}

func (p *PostgresStore) RatingsFor(ctx context.Context, revieweeID string) ([]int, error) {
	rows, err := p.db.Query(ctx, `SELECT rating::int FROM reviews WHERE reviewee_id = @id`, pgx.NamedArgs{"id": revieweeID})
	if err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.RatingsFor: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.RatingsFor: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListReviewsFor(ctx context.Context, revieweeID string, limit int) ([]models.Review, error) {
	args := pgx.NamedArgs{"id": revieweeID, "limit": nil}
	if limit > 0 {
		args["limit"] = limit
	}
	q := `SELECT ` + reviewColumns + ` FROM reviews WHERE reviewee_id = @id ORDER BY created_at DESC, id LIMIT @limit`

	rows, err := p.db.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ListReviewsFor: %w", err)
	}
	defer rows.Close()

	var out []models.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.PostgresStore.ListReviewsFor: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.PostgresStore.ListReviewsFor: rows: %w", err)
	}
	return out, nil
}

// expiry

func (p *PostgresStore) ExpireTrips(ctx context.Context, now time.Time, limit int) (int, error) {
	const q = `
		UPDATE trips
		SET status = 'expired', updated_at = @now
		WHERE status = 'active' AND id IN (
			SELECT id FROM trips
			WHERE status = 'active' AND departure_date < @now
			ORDER BY departure_date, id
			LIMIT @limit
			FOR UPDATE SKIP LOCKED
		)`

	tag, err := p.db.Exec(ctx, q, pgx.NamedArgs{"now": now, "limit": clampLimit(limit)})
	if err != nil {
		return 0, fmt.Errorf("storage.PostgresStore.ExpireTrips: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresStore) ExpireRequests(ctx context.Context, now time.Time, limit int) (int, error) {
	const q = `
		UPDATE requests
		SET status = 'expired', updated_at = @now
		WHERE status = 'active' AND id IN (
			SELECT id FROM requests
			WHERE status = 'active' AND deadline IS NOT NULL AND deadline < @now
			ORDER BY deadline, id
			LIMIT @limit
			FOR UPDATE SKIP LOCKED
		)`

	tag, err := p.db.Exec(ctx, q, pgx.NamedArgs{"now": now, "limit": clampLimit(limit)})
	if err != nil {
		return 0, fmt.Errorf("storage.PostgresStore.ExpireRequests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// notifications

func (p *PostgresStore) InsertNotification(ctx context.Context, n models.Notification) error {
	const q = `
		INSERT INTO notifications (id, user_id, type, title, body, data, read, created_at)
		VALUES (@id, @user_id, @type, @title, @body, @data, @read, @created_at)`

	_, err := p.db.Exec(ctx, q, pgx.NamedArgs{
		"id":         n.ID,
		"user_id":    n.UserID,
		"type":       n.Type,
		"title":      n.Title,
		"body":       n.Body,
		"data":       n.Data,
		"read":       n.Read,
		"created_at": n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("storage.PostgresStore.InsertNotification: %w", mapErr(err))
	}
	return nil
}

// missOrConflict tells a missing row apart from a failed status precondition.
// table is always a package constant.
func missOrConflict(ctx context.Context, db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, table, id string) error {
	var ok bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = @id)`, pgx.NamedArgs{"id": id}).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return models.ErrInvalidState
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrAlreadyExists)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (models.User, error) {
	var u models.User
	err := s.Scan(&u.UID, &u.DisplayName, &u.PhotoURL, &u.Rating, &u.ReviewCount, &u.TripsCount,
		&u.RequestsCount, &u.CompletedDeliveries, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// scanTrip decodes the stored document, overlays the mutable columns and
// upgrades the result to the current schema.
func scanTrip(s scanner) (models.Trip, error) {
	var (
		doc      []byte
		status   string
		capacity *float64
		t        models.Trip
	)
	if err := s.Scan(&doc, &status, &capacity, &t.CancelReason, &t.UpdatedAt); err != nil {
		return models.Trip{}, err
	}
	reason, updated := t.CancelReason, t.UpdatedAt
	if err := json.Unmarshal(doc, &t); err != nil {
		return models.Trip{}, fmt.Errorf("decode trip: %w", err)
	}
	t.Status = models.TripStatus(status)
	t.CancelReason, t.UpdatedAt = reason, updated
	if capacity != nil {
		t.AvailableCapacityKg = *capacity
	}
	t.Normalize()
	return t, nil
}

func scanRequest(s scanner) (models.Request, error) {
	var (
		doc    []byte
		status string
		weight *float64
		r      models.Request
	)
	if err := s.Scan(&doc, &status, &weight, &r.CancelReason, &r.UpdatedAt); err != nil {
		return models.Request{}, err
	}
	reason, updated := r.CancelReason, r.UpdatedAt
	if err := json.Unmarshal(doc, &r); err != nil {
		return models.Request{}, fmt.Errorf("decode request: %w", err)
	}
	r.Status = models.RequestStatus(status)
	r.CancelReason, r.UpdatedAt = reason, updated
	if weight != nil {
		r.WeightKg = *weight
	}
	r.Normalize()
	return r, nil
}

func scanMatch(s scanner) (models.Match, error) {
	var (
		m      models.Match
		status string
	)
	err := s.Scan(&m.ID, &m.TripID, &m.RequestID, &m.TravelerID, &m.RequesterID, &m.Participants, &status,
		&m.TravelerName, &m.TravelerPhoto, &m.TravelerRating, &m.RequesterName, &m.RequesterPhoto, &m.RequesterRating,
		&m.ItemTitle, &m.Route, &m.AgreedPrice, &m.TripDate,
		&m.LastMessage, &m.LastMessageAt, &m.LastMessageSenderID,
		&m.AcceptedBy, &m.AcceptedAt, &m.RejectedBy, &m.RejectedAt, &m.CompletedBy, &m.CompletedAt,
		&m.CancelledBy, &m.CancelledAt, &m.CancelReason, &m.PaymentIntentID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return models.Match{}, err
	}
	m.Status = models.MatchStatus(status)
	return m, nil
}

func scanReview(s scanner) (models.Review, error) {
	var r models.Review
	err := s.Scan(&r.ID, &r.MatchID, &r.ReviewerID, &r.RevieweeID, &r.Rating, &r.Comment, &r.CreatedAt)
	return r, err
}
