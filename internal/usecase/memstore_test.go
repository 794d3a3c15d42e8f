package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HasanRzayev/OdiNow/internal/domain"
	"github.com/HasanRzayev/OdiNow/internal/repository"
)

// memStore is an in-memory repository.Store that mirrors the SQL semantics
// the real store relies on, including pgx.ErrNoRows on empty single-row
// reads and rows-affected counts on guarded updates. ExecTx serializes
// transactions under one mutex and rolls back by snapshot, so concurrent
// service calls observe the same all-or-nothing behavior the database gives.
type memStore struct {
	mu   sync.Mutex
	data memData
}

type memData struct {
	users  map[uuid.UUID]bool
	offers map[uuid.UUID]memOffer
	orders map[uuid.UUID]bool

	tickets []memUnit
	rights  []memUnit
	views   map[viewKey]bool

	drops  []memDrop
	claims []domain.TicketClaim
}

type memOffer struct {
	id         uuid.UUID
	title      string
	restaurant string
	discount   int
	active     bool
	startAt    time.Time
	endAt      time.Time
}

type memUnit struct {
	id          uuid.UUID
	ownerID     uuid.UUID
	status      domain.UnitStatus
	targetID    *uuid.UUID
	generatedAt time.Time
	usedAt      *time.Time
}

type memDrop struct {
	id            uuid.UUID
	offerID       uuid.UUID
	total         int
	remaining     int
	availableFrom time.Time
	expiresAt     time.Time
	createdAt     time.Time
	active        bool
}

type viewKey struct {
	userID  uuid.UUID
	offerID uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		data: memData{
			users:  map[uuid.UUID]bool{},
			offers: map[uuid.UUID]memOffer{},
			orders: map[uuid.UUID]bool{},
			views:  map[viewKey]bool{},
		},
	}
}

func (s *memStore) addUser() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.data.users[id] = true
	return id
}

func (s *memStore) addOffer(title string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.data.offers[id] = memOffer{
		id:         id,
		title:      title,
		restaurant: "Test Kitchen",
		discount:   20,
		active:     true,
		startAt:    time.Time{},
		endAt:      time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	return id
}

func (s *memStore) addOrder() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.data.orders[id] = true
	return id
}

func (s *memStore) addDrop(offerID uuid.UUID, tickets int, from, until time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.data.drops = append(s.data.drops, memDrop{
		id:            id,
		offerID:       offerID,
		total:         tickets,
		remaining:     tickets,
		availableFrom: from,
		expiresAt:     until,
		createdAt:     from,
		active:        true,
	})
	return id
}

func (s *memStore) ticketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.tickets)
}

func (d *memData) snapshot() memData {
	snap := memData{
		users:   map[uuid.UUID]bool{},
		offers:  map[uuid.UUID]memOffer{},
		orders:  map[uuid.UUID]bool{},
		views:   map[viewKey]bool{},
		tickets: append([]memUnit(nil), d.tickets...),
		rights:  append([]memUnit(nil), d.rights...),
		drops:   append([]memDrop(nil), d.drops...),
		claims:  append([]domain.TicketClaim(nil), d.claims...),
	}
	for k, v := range d.users {
		snap.users[k] = v
	}
	for k, v := range d.offers {
		snap.offers[k] = v
	}
	for k, v := range d.orders {
		snap.orders[k] = v
	}
	for k, v := range d.views {
		snap.views[k] = v
	}
	return snap
}

func (s *memStore) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.data.snapshot()
	if err := fn(memQuerier{d: &s.data}); err != nil {
		s.data = snap
		return err
	}
	return nil
}

// memQuerier is the lock-free view handed to transaction bodies; memStore's
// own Querier methods lock and delegate to it.
type memQuerier struct {
	d *memData
}

func (q memQuerier) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	// Transactions here run one at a time under the store mutex, so the
	// per-owner lock has nothing extra to exclude.
	return nil
}

func (q memQuerier) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return q.d.users[id], nil
}

func (q memQuerier) OfferExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, ok := q.d.offers[id]
	return ok, nil
}

func (q memQuerier) OrderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return q.d.orders[id], nil
}

func latestGeneratedAt(units []memUnit, ownerID uuid.UUID) (time.Time, error) {
	var latest time.Time
	found := false
	for _, u := range units {
		if u.ownerID != ownerID {
			continue
		}
		if !found || u.generatedAt.After(latest) {
			latest = u.generatedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, pgx.ErrNoRows
	}
	return latest, nil
}

func availableCount(units []memUnit, ownerID uuid.UUID) int {
	n := 0
	for _, u := range units {
		if u.ownerID == ownerID && u.status == domain.UnitAvailable {
			n++
		}
	}
	return n
}

func consumeOldest(units []memUnit, arg repository.ConsumeUnitParams) (domain.AllocationUnit, error) {
	idx := -1
	for i, u := range units {
		if u.ownerID != arg.OwnerID || u.status != domain.UnitAvailable {
			continue
		}
		if idx < 0 || u.generatedAt.Before(units[idx].generatedAt) {
			idx = i
		}
	}
	if idx < 0 {
		return domain.AllocationUnit{}, pgx.ErrNoRows
	}
	target := arg.TargetID
	used := arg.Now
	units[idx].status = domain.UnitUsed
	units[idx].targetID = &target
	units[idx].usedAt = &used
	u := units[idx]
	return domain.AllocationUnit{
		ID:          u.id,
		OwnerID:     u.ownerID,
		Status:      u.status,
		TargetID:    u.targetID,
		GeneratedAt: u.generatedAt,
		UsedAt:      u.usedAt,
	}, nil
}

func (q memQuerier) LatestTicketGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	return latestGeneratedAt(q.d.tickets, ownerID)
}

func (q memQuerier) AvailableTicketCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	return availableCount(q.d.tickets, ownerID), nil
}

func (q memQuerier) InsertTicket(ctx context.Context, arg repository.InsertUnitParams) error {
	q.d.tickets = append(q.d.tickets, memUnit{
		id:          arg.ID,
		ownerID:     arg.OwnerID,
		status:      domain.UnitAvailable,
		generatedAt: arg.GeneratedAt,
	})
	return nil
}

func (q memQuerier) ConsumeOldestTicket(ctx context.Context, arg repository.ConsumeUnitParams) (domain.AllocationUnit, error) {
	return consumeOldest(q.d.tickets, arg)
}

func (q memQuerier) TicketHistory(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.TicketHistoryItem, error) {
	var items []domain.TicketHistoryItem
	for _, u := range q.d.tickets {
		if u.ownerID != ownerID || u.status != domain.UnitUsed || u.targetID == nil {
			continue
		}
		offer, ok := q.d.offers[*u.targetID]
		if !ok {
			continue
		}
		items = append(items, domain.TicketHistoryItem{
			TicketID:        u.id,
			OfferID:         offer.id,
			OfferTitle:      offer.title,
			RestaurantName:  offer.restaurant,
			DiscountPercent: offer.discount,
			UsedAt:          *u.usedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UsedAt.After(items[j].UsedAt) })
	if len(items) > int(limit) {
		items = items[:limit]
	}
	return items, nil
}

func (q memQuerier) LatestRightGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	return latestGeneratedAt(q.d.rights, ownerID)
}

func (q memQuerier) AvailableRightCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	return availableCount(q.d.rights, ownerID), nil
}

func (q memQuerier) InsertRight(ctx context.Context, arg repository.InsertUnitParams) error {
	q.d.rights = append(q.d.rights, memUnit{
		id:          arg.ID,
		ownerID:     arg.OwnerID,
		status:      domain.UnitAvailable,
		generatedAt: arg.GeneratedAt,
	})
	return nil
}

func (q memQuerier) ConsumeOldestRight(ctx context.Context, arg repository.ConsumeUnitParams) (domain.AllocationUnit, error) {
	return consumeOldest(q.d.rights, arg)
}

func (q memQuerier) ListRights(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.AllocationUnit, error) {
	var units []domain.AllocationUnit
	for _, u := range q.d.rights {
		if u.ownerID != ownerID {
			continue
		}
		units = append(units, domain.AllocationUnit{
			ID:          u.id,
			OwnerID:     u.ownerID,
			Status:      u.status,
			TargetID:    u.targetID,
			GeneratedAt: u.generatedAt,
			UsedAt:      u.usedAt,
		})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].GeneratedAt.After(units[j].GeneratedAt) })
	if len(units) > int(limit) {
		units = units[:limit]
	}
	return units, nil
}

func (q memQuerier) HasViewedOffer(ctx context.Context, ownerID, offerID uuid.UUID) (bool, error) {
	return q.d.views[viewKey{userID: ownerID, offerID: offerID}], nil
}

func (q memQuerier) InsertOfferView(ctx context.Context, arg repository.InsertOfferViewParams) (int64, error) {
	key := viewKey{userID: arg.OwnerID, offerID: arg.OfferID}
	if q.d.views[key] {
		return 0, nil
	}
	q.d.views[key] = true
	return 1, nil
}

func (q memQuerier) ActiveDrops(ctx context.Context, now time.Time) ([]domain.TicketDrop, error) {
	var drops []domain.TicketDrop
	for _, d := range q.d.drops {
		if !d.active || d.remaining <= 0 || d.availableFrom.After(now) || !d.expiresAt.After(now) {
			continue
		}
		drops = append(drops, domain.TicketDrop{
			ID:               d.id,
			OfferID:          d.offerID,
			OfferTitle:       q.d.offers[d.offerID].title,
			TicketsTotal:     d.total,
			TicketsRemaining: d.remaining,
			AvailableFrom:    d.availableFrom,
			ExpiresAt:        d.expiresAt,
			IsActive:         d.active,
			CreatedAt:        d.createdAt,
		})
	}
	sort.Slice(drops, func(i, j int) bool { return drops[i].CreatedAt.After(drops[j].CreatedAt) })
	return drops, nil
}

func (q memQuerier) ClaimedDropIDs(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, c := range q.d.claims {
		if c.OwnerID == ownerID {
			ids = append(ids, c.DropID)
		}
	}
	return ids, nil
}

func (q memQuerier) DropExists(ctx context.Context, id uuid.UUID) (bool, error) {
	for _, d := range q.d.drops {
		if d.id == id {
			return true, nil
		}
	}
	return false, nil
}

func (q memQuerier) InsertDropClaim(ctx context.Context, arg repository.InsertDropClaimParams) (int64, error) {
	exists, _ := q.DropExists(ctx, arg.DropID)
	if !exists {
		return 0, errors.New(`insert or update on table "ticket_claims" violates foreign key constraint "ticket_claims_drop_id_fkey"`)
	}
	for _, c := range q.d.claims {
		if c.DropID == arg.DropID && c.OwnerID == arg.OwnerID {
			return 0, nil
		}
	}
	q.d.claims = append(q.d.claims, domain.TicketClaim{
		ID:        arg.ID,
		DropID:    arg.DropID,
		OwnerID:   arg.OwnerID,
		Code:      arg.Code,
		QRPayload: arg.QRPayload,
		Status:    domain.ClaimClaimed,
		ClaimedAt: arg.ClaimedAt,
	})
	return 1, nil
}

func (q memQuerier) DecrementDropTickets(ctx context.Context, dropID uuid.UUID, now time.Time) (int64, error) {
	for i, d := range q.d.drops {
		if d.id != dropID || !d.active || d.remaining <= 0 || d.availableFrom.After(now) || !d.expiresAt.After(now) {
			continue
		}
		q.d.drops[i].remaining--
		return 1, nil
	}
	return 0, nil
}

func (q memQuerier) GetClaim(ctx context.Context, id uuid.UUID) (domain.TicketClaim, error) {
	for _, c := range q.d.claims {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.TicketClaim{}, pgx.ErrNoRows
}

func (q memQuerier) RedeemClaim(ctx context.Context, arg repository.RedeemClaimParams) (int64, error) {
	for i, c := range q.d.claims {
		if c.ID != arg.ClaimID || c.OwnerID != arg.OwnerID || c.Code != arg.Code || c.Status != domain.ClaimClaimed {
			continue
		}
		redeemed := arg.Now
		q.d.claims[i].Status = domain.ClaimRedeemed
		q.d.claims[i].RedeemedAt = &redeemed
		return 1, nil
	}
	return 0, nil
}

func (q memQuerier) ClaimHistory(ctx context.Context, ownerID uuid.UUID) ([]domain.TicketClaim, error) {
	var claims []domain.TicketClaim
	for _, c := range q.d.claims {
		if c.OwnerID == ownerID {
			claims = append(claims, c)
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].ClaimedAt.After(claims[j].ClaimedAt) })
	return claims, nil
}

func (q memQuerier) ExpireStaleDrops(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for i, d := range q.d.drops {
		if d.active && !d.expiresAt.After(now) {
			q.d.drops[i].active = false
			q.d.drops[i].remaining = 0
			n++
		}
	}
	return n, nil
}

func (q memQuerier) ExpireStaleClaims(ctx context.Context, now time.Time) (int64, error) {
	expired := map[uuid.UUID]bool{}
	for _, d := range q.d.drops {
		if !d.expiresAt.After(now) {
			expired[d.id] = true
		}
	}
	var n int64
	for i, c := range q.d.claims {
		if c.Status == domain.ClaimClaimed && expired[c.DropID] {
			at := now
			q.d.claims[i].Status = domain.ClaimExpired
			q.d.claims[i].ExpiredAt = &at
			n++
		}
	}
	return n, nil
}

func (q memQuerier) ActiveDropCount(ctx context.Context, now time.Time) (int, error) {
	n := 0
	for _, d := range q.d.drops {
		if d.active && d.remaining > 0 && d.expiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (q memQuerier) LatestDropCreatedAt(ctx context.Context) (time.Time, error) {
	var latest time.Time
	found := false
	for _, d := range q.d.drops {
		if !found || d.createdAt.After(latest) {
			latest = d.createdAt
			found = true
		}
	}
	if !found {
		return time.Time{}, pgx.ErrNoRows
	}
	return latest, nil
}

func (q memQuerier) RandomEligibleOffer(ctx context.Context, now time.Time) (uuid.UUID, error) {
	for id, o := range q.d.offers {
		if o.active && !o.startAt.After(now) && !o.endAt.Before(now) {
			return id, nil
		}
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (q memQuerier) InsertDrop(ctx context.Context, arg repository.InsertDropParams) error {
	q.d.drops = append(q.d.drops, memDrop{
		id:            arg.ID,
		offerID:       arg.OfferID,
		total:         arg.TicketsTotal,
		remaining:     arg.TicketsTotal,
		availableFrom: arg.AvailableFrom,
		expiresAt:     arg.ExpiresAt,
		createdAt:     arg.CreatedAt,
		active:        true,
	})
	return nil
}

// Querier methods on memStore lock and delegate so services can run the same
// operations outside a transaction.

func (s *memStore) locked() (memQuerier, func()) {
	s.mu.Lock()
	return memQuerier{d: &s.data}, s.mu.Unlock
}

func (s *memStore) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	q, done := s.locked()
	defer done()
	return q.LockOwner(ctx, ownerID)
}

func (s *memStore) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	q, done := s.locked()
	defer done()
	return q.UserExists(ctx, id)
}

func (s *memStore) OfferExists(ctx context.Context, id uuid.UUID) (bool, error) {
	q, done := s.locked()
	defer done()
	return q.OfferExists(ctx, id)
}

func (s *memStore) OrderExists(ctx context.Context, id uuid.UUID) (bool, error) {
	q, done := s.locked()
	defer done()
	return q.OrderExists(ctx, id)
}

func (s *memStore) LatestTicketGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	q, done := s.locked()
	defer done()
	return q.LatestTicketGeneratedAt(ctx, ownerID)
}

func (s *memStore) AvailableTicketCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	q, done := s.locked()
	defer done()
	return q.AvailableTicketCount(ctx, ownerID)
}

func (s *memStore) InsertTicket(ctx context.Context, arg repository.InsertUnitParams) error {
	q, done := s.locked()
	defer done()
	return q.InsertTicket(ctx, arg)
}

func (s *memStore) ConsumeOldestTicket(ctx context.Context, arg repository.ConsumeUnitParams) (domain.AllocationUnit, error) {
	q, done := s.locked()
	defer done()
	return q.ConsumeOldestTicket(ctx, arg)
}

func (s *memStore) TicketHistory(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.TicketHistoryItem, error) {
	q, done := s.locked()
	defer done()
	return q.TicketHistory(ctx, ownerID, limit)
}

func (s *memStore) LatestRightGeneratedAt(ctx context.Context, ownerID uuid.UUID) (time.Time, error) {
	q, done := s.locked()
	defer done()
	return q.LatestRightGeneratedAt(ctx, ownerID)
}

func (s *memStore) AvailableRightCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	q, done := s.locked()
	defer done()
	return q.AvailableRightCount(ctx, ownerID)
}

func (s *memStore) InsertRight(ctx context.Context, arg repository.InsertUnitParams) error {
	q, done := s.locked()
	defer done()
	return q.InsertRight(ctx, arg)
}

func (s *memStore) ConsumeOldestRight(ctx context.Context, arg repository.ConsumeUnitParams) (domain.AllocationUnit, error) {
	q, done := s.locked()
	defer done()
	return q.ConsumeOldestRight(ctx, arg)
}

func (s *memStore) ListRights(ctx context.Context, ownerID uuid.UUID, limit int32) ([]domain.AllocationUnit, error) {
	q, done := s.locked()
	defer done()
	return q.ListRights(ctx, ownerID, limit)
}

func (s *memStore) HasViewedOffer(ctx context.Context, ownerID, offerID uuid.UUID) (bool, error) {
	q, done := s.locked()
	defer done()
	return q.HasViewedOffer(ctx, ownerID, offerID)
}

func (s *memStore) InsertOfferView(ctx context.Context, arg repository.InsertOfferViewParams) (int64, error) {
	q, done := s.locked()
	defer done()
	return q.InsertOfferView(ctx, arg)
}

func (s *memStore) ActiveDrops(ctx context.Context, now time.Time) ([]domain.TicketDrop, error) {
	q, done := s.locked()
	defer done()
	return q.ActiveDrops(ctx, now)
}

func (s *memStore) ClaimedDropIDs(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	q, done := s.locked()
	defer done()
	return q.ClaimedDropIDs(ctx, ownerID)
}

func (s *memStore) DropExists(ctx context.Context, id uuid.UUID) (bool, error) {
	q, done := s.locked()
	defer done()
	return q.DropExists(ctx, id)
}

func (s *memStore) InsertDropClaim(ctx context.Context, arg repository.InsertDropClaimParams) (int64, error) {
	q, done := s.locked()
	defer done()
	return q.InsertDropClaim(ctx, arg)
}

func (s *memStore) DecrementDropTickets(ctx context.Context, dropID uuid.UUID, now time.Time) (int64, error) {
	q, done := s.locked()
	defer done()
	return q.DecrementDropTickets(ctx, dropID, now)
}

func (s *memStore) GetClaim(ctx context.Context, id uuid.UUID) (domain.TicketClaim, error) {
	q, done := s.locked()
	defer done()
	return q.GetClaim(ctx, id)
}

func (s *memStore) RedeemClaim(ctx context.Context, arg repository.RedeemClaimParams) (int64, error) {
	q, done := s.locked()
	defer done()
	return q.RedeemClaim(ctx, arg)
}

func (s *memStore) ClaimHistory(ctx context.Context, ownerID uuid.UUID) ([]domain.TicketClaim, error) {
	q, done := s.locked()
	defer done()
	return q.ClaimHistory(ctx, ownerID)
}

func (s *memStore) ExpireStaleDrops(ctx context.Context, now time.Time) (int64, error) {
	q, done := s.locked()
	defer done()
	return q.ExpireStaleDrops(ctx, now)
}

func (s *memStore) ExpireStaleClaims(ctx context.Context, now time.Time) (int64, error) {
	q, done := s.locked()
	defer done()
	return q.ExpireStaleClaims(ctx, now)
}

func (s *memStore) ActiveDropCount(ctx context.Context, now time.Time) (int, error) {
	q, done := s.locked()
	defer done()
	return q.ActiveDropCount(ctx, now)
}

func (s *memStore) LatestDropCreatedAt(ctx context.Context) (time.Time, error) {
	q, done := s.locked()
	defer done()
	return q.LatestDropCreatedAt(ctx)
}

func (s *memStore) RandomEligibleOffer(ctx context.Context, now time.Time) (uuid.UUID, error) {
	q, done := s.locked()
	defer done()
	return q.RandomEligibleOffer(ctx, now)
}

func (s *memStore) InsertDrop(ctx context.Context, arg repository.InsertDropParams) error {
	q, done := s.locked()
	defer done()
	return q.InsertDrop(ctx, arg)
}

var _ repository.Store = (*memStore)(nil)
var _ repository.Querier = memQuerier{}

// fakeClock is a settable Clock shared across test goroutines.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
