package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/profile"
)

type Profile struct {
	UID        string    `db:"uid"`
	Provider   string    `db:"provider"`
	Phone      string    `db:"phone"`
	Name       string    `db:"name"`
	Email      *string   `db:"email"`
	Age        int       `db:"age"`
	Sex        string    `db:"sex"`
	Weight     float64   `db:"weight"`
	Lifestyle  string    `db:"lifestyle"`
	Diet       string    `db:"diet"`
	ProteinMin int       `db:"protein_min"`
	ProteinMax int       `db:"protein_max"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (p *Profile) Document() profile.Document {
	return profile.Document{
		UID:          p.UID,
		Provider:     p.Provider,
		Phone:        p.Phone,
		Name:         p.Name,
		Email:        p.Email,
		Age:          p.Age,
		Sex:          profile.Sex(p.Sex),
		Weight:       p.Weight,
		Lifestyle:    profile.Lifestyle(p.Lifestyle),
		Diet:         profile.Diet(p.Diet),
		ProteinRange: profile.ProteinRange{Min: p.ProteinMin, Max: p.ProteinMax},
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type ProfileRepository struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{
		db: db,
	}
}

// UpsertProfile writes the document under uid, overwriting any previous
// answers. Timestamps come from the database clock.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, uid string, doc profile.Document) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	    INSERT INTO profiles
		(uid, provider, phone, name, email, age, sex, weight, lifestyle, diet,
		protein_min, protein_max, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (uid) DO UPDATE SET
		    provider = excluded.provider,
		    phone = excluded.phone,
		    name = excluded.name,
		    email = excluded.email,
		    age = excluded.age,
		    sex = excluded.sex,
		    weight = excluded.weight,
		    lifestyle = excluded.lifestyle,
		    diet = excluded.diet,
		    protein_min = excluded.protein_min,
		    protein_max = excluded.protein_max,
		    updated_at = CURRENT_TIMESTAMP
	`),
		uid,
		doc.Provider,
		doc.Phone,
		doc.Name,
		doc.Email,
		doc.Age,
		string(doc.Sex),
		doc.Weight,
		string(doc.Lifestyle),
		string(doc.Diet),
		doc.ProteinRange.Min,
		doc.ProteinRange.Max,
	)
	if err != nil {
		return fmt.Errorf("ProfileRepository.UpsertProfile: %w", err)
	}

	return nil
}

func (r *ProfileRepository) GetByUID(ctx context.Context, uid string) (*Profile, error) {
	var p Profile

	err := r.db.GetContext(ctx, &p, r.db.Rebind(`
	    SELECT
		    uid, provider, phone, name, email, age, sex, weight, lifestyle, diet,
			protein_min, protein_max, created_at, updated_at
		FROM profiles
		WHERE uid = ?
	`), uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("ProfileRepository.GetByUID: %w", err)
	}

	return &p, nil
}

func (r *ProfileRepository) Count(ctx context.Context) (int, error) {
	var count int

	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM profiles`); err != nil {
		return 0, fmt.Errorf("ProfileRepository.Count: %w", err)
	}

	return count, nil
}
