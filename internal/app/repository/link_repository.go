package repository

import (
	"context"
	"errors"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"gorm.io/gorm"
)

var (
	// ErrPolicyNotFound signals that no link exists for the slug+domain pair.
	ErrPolicyNotFound = errors.New("link policy not found")
)

// LinkRepository is the read-only access contract for link policies. Writes
// to the links table belong to the CRUD layer, except the click counter
// which EventWriter advances inside the ingest transaction.
type LinkRepository interface {
	GetBySlug(ctx context.Context, slug, domain string) (*model.LinkPolicy, error)
	GetByID(ctx context.Context, id string) (*model.LinkPolicy, error)
	ListSlugKeys(ctx context.Context) ([]string, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) GetBySlug(ctx context.Context, slug, domain string) (*model.LinkPolicy, error) {
	var policy model.LinkPolicy
	if err := r.db.WithContext(ctx).
		Where("slug = ? AND domain_id = ?", slug, domain).
		First(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &policy, nil
}

func (r *linkRepository) GetByID(ctx context.Context, id string) (*model.LinkPolicy, error) {
	var policy model.LinkPolicy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// ListSlugKeys returns every slug+domain key, used to warm the known-slug
// filter at startup.
func (r *linkRepository) ListSlugKeys(ctx context.Context) ([]string, error) {
	var rows []struct {
		Slug     string
		DomainID string
	}
	if err := r.db.WithContext(ctx).
		Model(&model.LinkPolicy{}).
		Select("slug", "domain_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, SlugKey(row.Slug, row.DomainID))
	}
	return keys, nil
}

// SlugKey builds the composite lookup key for a slug under a domain.
func SlugKey(slug, domain string) string {
	return domain + "/" + slug
}
