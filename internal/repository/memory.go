package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SinaHo/learning-platform-referrals/internal/model"
)

type memoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*model.User
	byEmail map[string]uuid.UUID
	byCode  map[string]uuid.UUID
}

// NewMemoryRepository returns a process-local UserRepository. Writes are
// serialized by a single mutex, which gives the same uniqueness and atomic
// increment guarantees the Postgres store provides.
func NewMemoryRepository() UserRepository {
	return &memoryRepository{
		byID:    make(map[uuid.UUID]*model.User),
		byEmail: make(map[string]uuid.UUID),
		byCode:  make(map[string]uuid.UUID),
	}
}

func (r *memoryRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[u.Email]; ok {
		return nil, ErrEmailTaken
	}
	if _, ok := r.byCode[u.ReferralCode]; ok {
		return nil, ErrReferralCodeTaken
	}

	stored := *u
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.ReferredBy.Valid && stored.ReferredBy.UUID == stored.ID {
		return nil, ErrSelfReferral
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	r.byID[stored.ID] = &stored
	r.byEmail[stored.Email] = stored.ID
	r.byCode[stored.ReferralCode] = stored.ID

	out := stored
	return &out, nil
}

func (r *memoryRepository) lookup(id uuid.UUID, ok bool) *model.User {
	if !ok {
		return nil
	}
	u, found := r.byID[id]
	if !found {
		return nil
	}
	out := *u
	return &out
}

func (r *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(id, true), nil
}

func (r *memoryRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	return r.lookup(id, ok), nil
}

func (r *memoryRepository) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	return r.lookup(id, ok), nil
}

func (r *memoryRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCode[code]
	return ok, nil
}

func (r *memoryRepository) IncrementTotalReferrals(ctx context.Context, id uuid.UUID, delta int64) error {
	if delta <= 0 {
		return ErrInvalidDelta
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.TotalReferrals += delta
	return nil
}

func (r *memoryRepository) referred(referrerID uuid.UUID) []model.User {
	users := []model.User{}
	for _, u := range r.byID {
		if u.ReferredBy.Valid && u.ReferredBy.UUID == referrerID {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

func (r *memoryRepository) ListReferred(ctx context.Context, referrerID uuid.UUID) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.referred(referrerID), nil
}

func (r *memoryRepository) RecountReferrals(ctx context.Context, id uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	u.TotalReferrals = int64(len(r.referred(id)))
	return u.TotalReferrals, nil
}

func (r *memoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byEmail, u.Email)
	delete(r.byCode, u.ReferralCode)
	delete(r.byID, id)
	return nil
}
