package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/restaurant-ordering/api/internal/domain"
	pfirestore "github.com/restaurant-ordering/api/internal/platform/firestore"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists order owner profiles in Firestore.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil),
	}, nil
}

// FindByID loads the user profile by id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc), nil
}

// Upsert merges the profile into the stored document. Blank values never overwrite stored ones
// and the active flag is left alone.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}
	updatedAt := user.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	doc := userDocument{
		Email:       strings.TrimSpace(user.Email),
		DisplayName: strings.TrimSpace(user.DisplayName),
		UpdatedAt:   updatedAt,
	}
	paths := []firestore.FieldPath{{"updatedAt"}}
	if doc.Email != "" {
		paths = append(paths, firestore.FieldPath{"email"})
	}
	if doc.DisplayName != "" {
		paths = append(paths, firestore.FieldPath{"displayName"})
	}
	return r.base.Set(ctx, user.ID, doc, firestore.Merge(paths...))
}

// Update overwrites the stored profile, failing with not-found when it is absent.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}
	active := user.IsActive
	return r.base.Replace(ctx, user.ID, userDocument{
		Email:       strings.TrimSpace(user.Email),
		DisplayName: strings.TrimSpace(user.DisplayName),
		IsActive:    &active,
		UpdatedAt:   user.UpdatedAt.UTC(),
	})
}

// List returns a page of profiles ordered by id. Documents written before the active flag
// existed count as active, so the active-only filter runs after the read.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.OffsetPage[domain.User], error) {
	if r == nil || r.base == nil {
		return domain.OffsetPage[domain.User]{}, errors.New("user repository not initialised")
	}
	pager := filter.Pagination.Normalize()
	if !filter.ActiveOnly {
		total, err := r.base.Count(ctx, func(q firestore.Query) firestore.Query { return q })
		if err != nil {
			return domain.OffsetPage[domain.User]{}, err
		}
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.OrderBy(firestore.DocumentID, firestore.Asc).Offset(pager.Offset).Limit(pager.Limit)
		})
		if err != nil {
			return domain.OffsetPage[domain.User]{}, err
		}
		return userPage(docs, total, pager), nil
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return domain.OffsetPage[domain.User]{}, err
	}
	active := docs[:0]
	for _, doc := range docs {
		if doc.Data.IsActive == nil || *doc.Data.IsActive {
			active = append(active, doc)
		}
	}
	start := min(pager.Offset, len(active))
	end := min(start+pager.Limit, len(active))
	return userPage(active[start:end], len(active), pager), nil
}

type userDocument struct {
	Email       string    `firestore:"email"`
	DisplayName string    `firestore:"displayName"`
	IsActive    *bool     `firestore:"isActive,omitempty"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func toDomainUser(doc pfirestore.Document[userDocument]) domain.User {
	return domain.User{
		ID:          doc.ID,
		Email:       doc.Data.Email,
		DisplayName: doc.Data.DisplayName,
		IsActive:    doc.Data.IsActive == nil || *doc.Data.IsActive,
		CreatedAt:   doc.CreateTime,
		UpdatedAt:   doc.Data.UpdatedAt,
	}
}

func userPage(docs []pfirestore.Document[userDocument], total int, pager domain.OffsetPagination) domain.OffsetPage[domain.User] {
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, toDomainUser(doc))
	}
	return domain.OffsetPage[domain.User]{
		Items:  users,
		Total:  total,
		Limit:  pager.Limit,
		Offset: pager.Offset,
	}
}
