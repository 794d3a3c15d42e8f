package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HasanRzayev/OdiNow/internal/domain"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries { return &Queries{db: db} }

func (q *Queries) WithTx(tx pgx.Tx) *Queries { return &Queries{db: tx} }

func (q *Queries) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (q *Queries) OfferExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM offers WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (q *Queries) OrderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// Advisory lock keyed on the owner id, scoped to the transaction. Serializes
// unit generation per owner; released automatically at commit or rollback.
const lockOwner = `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`

func (q *Queries) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	_, err := q.db.Exec(ctx, lockOwner, ownerID.String())
	return err
}

const latestTicketGeneratedAt = `
SELECT generated_at FROM user_tickets
WHERE user_id = $1
ORDER BY generated_at DESC
LIMIT 1`

func (q *Queries) LatestTicketGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	var t time.Time
	err := q.db.QueryRow(ctx, latestTicketGeneratedAt, ownerID).Scan(&t)
	return t, err
}

const availableTicketCount = `
SELECT count(*) FROM user_tickets
WHERE user_id = $1 AND status = 'available'`

func (q *Queries) AvailableTicketCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, availableTicketCount, ownerID).Scan(&n)
	return n, err
}

type InsertUnitParams struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	GeneratedAt time.Time
}

const insertTicket = `
INSERT INTO user_tickets (id, user_id, status, generated_at)
VALUES ($1, $2, 'available', $3)`

func (q *Queries) InsertTicket(ctx context.Context, arg InsertUnitParams) error {
	_, err := q.db.Exec(ctx, insertTicket, arg.ID, arg.OwnerID, arg.GeneratedAt)
	return err
}

type ConsumeUnitParams struct {
	OwnerID  uuid.UUID
	TargetID uuid.UUID
	Now      time.Time
}

// The inner SELECT ... FOR UPDATE SKIP LOCKED makes the select-and-mark a
// single atomic read-modify-write: two transactions racing for the last
// available row cannot both get it.
const consumeOldestTicket = `
UPDATE user_tickets
SET status = 'used', offer_id = $2, used_at = $3
WHERE id = (
    SELECT id FROM user_tickets
    WHERE user_id = $1 AND status = 'available'
    ORDER BY generated_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, user_id, status, offer_id, generated_at, used_at`

func (q *Queries) ConsumeOldestTicket(ctx context.Context, arg ConsumeUnitParams) (domain.AllocationUnit, error) {
	var u domain.AllocationUnit
	err := q.db.QueryRow(ctx, consumeOldestTicket, arg.OwnerID, arg.TargetID, arg.Now).
		Scan(&u.ID, &u.OwnerID, &u.Status, &u.TargetID, &u.GeneratedAt, &u.UsedAt)
	return u, err
}

const ticketHistory = `
SELECT t.id, t.offer_id, o.title, COALESCE(o.restaurant_name, ''), o.discount_percent, t.used_at
FROM user_tickets t
JOIN offers o ON o.id = t.offer_id
WHERE t.user_id = $1 AND t.status = 'used' AND t.offer_id IS NOT NULL
ORDER BY t.used_at DESC
LIMIT $2`

func (q *Queries) TicketHistory(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.TicketHistoryItem, error) {
	rows, err := q.db.Query(ctx, ticketHistory, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.TicketHistoryItem
	for rows.Next() {
		var item domain.TicketHistoryItem
		if err := rows.Scan(&item.TicketID, &item.OfferID, &item.OfferTitle, &item.RestaurantName, &item.DiscountPercent, &item.UsedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const latestRightGeneratedAt = `
SELECT generated_at FROM cancellation_rights
WHERE user_id = $1
ORDER BY generated_at DESC
LIMIT 1`

func (q *Queries) LatestRightGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	var t time.Time
	err := q.db.QueryRow(ctx, latestRightGeneratedAt, ownerID).Scan(&t)
	return t, err
}

const availableRightCount = `
SELECT count(*) FROM cancellation_rights
WHERE user_id = $1 AND status = 'available'`

func (q *Queries) AvailableRightCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, availableRightCount, ownerID).Scan(&n)
	return n, err
}

const insertRight = `
INSERT INTO cancellation_rights (id, user_id, status, generated_at)
VALUES ($1, $2, 'available', $3)`

func (q *Queries) InsertRight(ctx context.Context, arg InsertUnitParams) error {
	_, err := q.db.Exec(ctx, insertRight, arg.ID, arg.OwnerID, arg.GeneratedAt)
	return err
}

const consumeOldestRight = `
UPDATE cancellation_rights
SET status = 'used', order_id = $2, used_at = $3
WHERE id = (
    SELECT id FROM cancellation_rights
    WHERE user_id = $1 AND status = 'available'
    ORDER BY generated_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, user_id, status, order_id, generated_at, used_at`

func (q *Queries) ConsumeOldestRight(ctx context.Context, arg ConsumeUnitParams) (domain.AllocationUnit, error) {
	var u domain.AllocationUnit
	err := q.db.QueryRow(ctx, consumeOldestRight, arg.OwnerID, arg.TargetID, arg.Now).
		Scan(&u.ID, &u.OwnerID, &u.Status, &u.TargetID, &u.GeneratedAt, &u.UsedAt)
	return u, err
}

const listRights = `
SELECT id, user_id, status, order_id, generated_at, used_at
FROM cancellation_rights
WHERE user_id = $1
ORDER BY generated_at DESC
LIMIT $2`

func (q *Queries) ListRights(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.AllocationUnit, error) {
	rows, err := q.db.Query(ctx, listRights, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []domain.AllocationUnit
	for rows.Next() {
		var u domain.AllocationUnit
		if err := rows.Scan(&u.ID, &u.OwnerID, &u.Status, &u.TargetID, &u.GeneratedAt, &u.UsedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (q *Queries) HasViewedOffer(ctx context.Context, ownerID, offerID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_views WHERE user_id = $1 AND offer_id = $2)`,
		ownerID, offerID).Scan(&exists)
	return exists, err
}

type InsertOfferViewParams struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	OfferID  uuid.UUID
	ViewedAt time.Time
}

const insertOfferView = `
INSERT INTO coupon_views (id, user_id, offer_id, viewed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, offer_id) DO NOTHING`

// InsertOfferView returns 0 rows affected when the (owner, offer) pair was
// already recorded, which is how a lost first-view race is detected.
func (q *Queries) InsertOfferView(ctx context.Context, arg InsertOfferViewParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertOfferView, arg.ID, arg.OwnerID, arg.OfferID, arg.ViewedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const activeDrops = `
SELECT d.id, d.offer_id, o.title, d.tickets_total, d.tickets_remaining,
       d.available_from, d.expires_at, d.is_active, d.created_at
FROM ticket_drops d
JOIN offers o ON o.id = d.offer_id
WHERE d.is_active AND d.tickets_remaining > 0 AND d.available_from <= $1 AND d.expires_at > $1
ORDER BY d.created_at DESC`

func (q *Queries) ActiveDrops(ctx context.Context, now time.Time) ([]domain.TicketDrop, error) {
	rows, err := q.db.Query(ctx, activeDrops, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drops []domain.TicketDrop
	for rows.Next() {
		var d domain.TicketDrop
		if err := rows.Scan(&d.ID, &d.OfferID, &d.OfferTitle, &d.TicketsTotal, &d.TicketsRemaining,
			&d.AvailableFrom, &d.ExpiresAt, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, err
		}
		drops = append(drops, d)
	}
	return drops, rows.Err()
}

func (q *Queries) ClaimedDropIDs(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `SELECT drop_id FROM ticket_claims WHERE user_id = $1`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) DropExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ticket_drops WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

type InsertDropClaimParams struct {
	ID        uuid.UUID
	DropID    uuid.UUID
	OwnerID   uuid.UUID
	Code      string
	QRPayload string
	ClaimedAt time.Time
}

const insertDropClaim = `
INSERT INTO ticket_claims (id, drop_id, user_id, code, qr_payload, status, claimed_at)
VALUES ($1, $2, $3, $4, $5, 'claimed', $6)
ON CONFLICT (drop_id, user_id) DO NOTHING`

func (q *Queries) InsertDropClaim(ctx context.Context, arg InsertDropClaimParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertDropClaim, arg.ID, arg.DropID, arg.OwnerID, arg.Code, arg.QRPayload, arg.ClaimedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const decrementDropTickets = `
UPDATE ticket_drops
SET tickets_remaining = tickets_remaining - 1
WHERE id = $1 AND is_active AND tickets_remaining > 0
  AND available_from <= $2 AND expires_at > $2`

func (q *Queries) DecrementDropTickets(ctx context.Context, dropID uuid.UUID, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, decrementDropTickets, dropID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getClaim = `
SELECT id, drop_id, user_id, code, qr_payload, status, claimed_at, redeemed_at, expired_at
FROM ticket_claims
WHERE id = $1`

func (q *Queries) GetClaim(ctx context.Context, id uuid.UUID) (domain.TicketClaim, error) {
	var c domain.TicketClaim
	err := q.db.QueryRow(ctx, getClaim, id).
		Scan(&c.ID, &c.DropID, &c.OwnerID, &c.Code, &c.QRPayload, &c.Status, &c.ClaimedAt, &c.RedeemedAt, &c.ExpiredAt)
	return c, err
}

type RedeemClaimParams struct {
	ClaimID uuid.UUID
	OwnerID uuid.UUID
	Code    string
	Now     time.Time
}

const redeemClaim = `
UPDATE ticket_claims
SET status = 'redeemed', redeemed_at = $4
WHERE id = $1 AND user_id = $2 AND code = $3 AND status = 'claimed'`

func (q *Queries) RedeemClaim(ctx context.Context, arg RedeemClaimParams) (int64, error) {
	tag, err := q.db.Exec(ctx, redeemClaim, arg.ClaimID, arg.OwnerID, arg.Code, arg.Now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const claimHistory = `
SELECT id, drop_id, user_id, code, qr_payload, status, claimed_at, redeemed_at, expired_at
FROM ticket_claims
WHERE user_id = $1
ORDER BY claimed_at DESC`

func (q *Queries) ClaimHistory(ctx context.Context, ownerID uuid.UUID) ([]domain.TicketClaim, error) {
	rows, err := q.db.Query(ctx, claimHistory, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.TicketClaim
	for rows.Next() {
		var c domain.TicketClaim
		if err := rows.Scan(&c.ID, &c.DropID, &c.OwnerID, &c.Code, &c.QRPayload, &c.Status, &c.ClaimedAt, &c.RedeemedAt, &c.ExpiredAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

const expireStaleDrops = `
UPDATE ticket_drops
SET is_active = false, tickets_remaining = 0
WHERE is_active AND expires_at <= $1`

func (q *Queries) ExpireStaleDrops(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, expireStaleDrops, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const expireStaleClaims = `
UPDATE ticket_claims c
SET status = 'expired', expired_at = $1
FROM ticket_drops d
WHERE c.drop_id = d.id AND c.status = 'claimed' AND d.expires_at <= $1`

func (q *Queries) ExpireStaleClaims(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, expireStaleClaims, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const activeDropCount = `
SELECT count(*) FROM ticket_drops
WHERE is_active AND tickets_remaining > 0 AND expires_at > $1`

func (q *Queries) ActiveDropCount(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, activeDropCount, now).Scan(&n)
	return n, err
}

const latestDropCreatedAt = `
SELECT created_at FROM ticket_drops
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) LatestDropCreatedAt(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := q.db.QueryRow(ctx, latestDropCreatedAt).Scan(&t)
	return t, err
}

const randomEligibleOffer = `
SELECT id FROM offers
WHERE is_active AND start_at <= $1 AND end_at >= $1
ORDER BY random()
LIMIT 1`

func (q *Queries) RandomEligibleOffer(ctx context.Context, now time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, randomEligibleOffer, now).Scan(&id)
	return id, err
}

type InsertDropParams struct {
	ID            uuid.UUID
	OfferID       uuid.UUID
	TicketsTotal  int
	AvailableFrom time.Time
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

const insertDrop = `
INSERT INTO ticket_drops (id, offer_id, tickets_total, tickets_remaining, available_from, expires_at, is_active, created_at)
VALUES ($1, $2, $3, $3, $4, $5, true, $6)`

func (q *Queries) InsertDrop(ctx context.Context, arg InsertDropParams) error {
	_, err := q.db.Exec(ctx, insertDrop, arg.ID, arg.OfferID, arg.TicketsTotal, arg.AvailableFrom, arg.ExpiresAt, arg.CreatedAt)
	return err
}
