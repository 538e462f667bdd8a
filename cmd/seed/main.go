package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dastarkhan/food-api/internal/auth"
	"github.com/dastarkhan/food-api/internal/catalog"
	"github.com/dastarkhan/food-api/internal/config"
	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type staffUser struct {
	name  string
	email string
	phone string
	role  string
}

var staff = []staffUser{
	{"Admin", "admin@example.com", "+77010000001", enum.UserRoleAdmin},
	{"Kitchen", "kitchen@example.com", "+77010000002", enum.UserRoleKitchen},
	{"Courier One", "courier1@example.com", "+77010000003", enum.UserRoleCourier},
	{"Courier Two", "courier2@example.com", "+77010000004", enum.UserRoleCourier},
}

type seedDish struct {
	name      string
	price     string
	modifiers map[string]string
}

var menu = []seedDish{
	{"Plov", "1500", map[string]string{"Extra meat": "300", "Without carrots": "0"}},
	{"Lagman", "1800", map[string]string{"Spicy": "0", "Extra noodles": "250"}},
	{"Samsa", "450", nil},
	{"Beshbarmak", "2500", map[string]string{"Extra broth": "150"}},
}

func main() {
	password := flag.String("password", "password123", "Password for all seeded staff users")
	tokenTTL := flag.Duration("token-ttl", 12*time.Hour, "Lifetime of the printed staff tokens")
	flag.Parse()

	if *password == "password123" {
		log.Println("WARNING: Using default password 'password123'. Change immediately in production!")
	}

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Seed in a transaction (all or nothing)
	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := database.New(tx)

	users, err := seedStaff(ctx, q, *password)
	if err != nil {
		log.Fatalf("Failed to seed staff: %v", err)
	}

	dishIDs, modifierIDs, err := seedMenu(ctx, tx, q)
	if err != nil {
		log.Fatalf("Failed to seed menu: %v", err)
	}

	if err := seedPromoCodes(ctx, q); err != nil {
		log.Fatalf("Failed to seed promo codes: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	invalidateCatalog(ctx, cfg, dishIDs, modifierIDs)

	log.Println("Seed completed successfully")
	for _, u := range users {
		token, err := auth.GenerateToken(cfg.JWTSecret, u.ID, u.Role, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to generate token for %s: %v", u.Email.String, err)
		}
		fmt.Printf("%-8s %-22s id=%d\n  token: %s\n", u.Role, u.Email.String, u.ID, token)
	}
}

// seedStaff upserts one user per staff role.
func seedStaff(ctx context.Context, q *database.Queries, password string) ([]database.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	users := make([]database.User, 0, len(staff))
	for _, s := range staff {
		u, err := q.CreateUser(ctx, database.CreateUserParams{
			Name:           s.name,
			Phone:          database.Text(s.phone),
			Email:          database.Text(strings.ToLower(s.email)),
			HashedPassword: pgtype.Text{String: string(hashed), Valid: true},
			Role:           s.role,
		})
		if err != nil {
			return nil, fmt.Errorf("create user %s: %w", s.email, err)
		}
		log.Printf("Seeded %s user '%s' (ID: %d)", u.Role, s.email, u.ID)
		users = append(users, u)
	}
	return users, nil
}

// seedMenu creates the sample dishes unless the menu already has any.
func seedMenu(ctx context.Context, tx pgx.Tx, q *database.Queries) ([]int64, []int64, error) {
	var count int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM dishes`).Scan(&count); err != nil {
		return nil, nil, fmt.Errorf("count dishes: %w", err)
	}
	if count > 0 {
		log.Printf("Menu already has %d dishes, skipping", count)
		return nil, nil, nil
	}

	var dishIDs, modifierIDs []int64
	for _, d := range menu {
		dish, err := q.CreateDish(ctx, database.CreateDishParams{
			Name:        d.name,
			Price:       database.DecimalToNumeric(decimal.RequireFromString(d.price)),
			IsAvailable: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create dish %s: %w", d.name, err)
		}
		dishIDs = append(dishIDs, dish.ID)

		for name, price := range d.modifiers {
			m, err := q.CreateDishModifier(ctx, database.CreateDishModifierParams{
				DishID: dish.ID,
				Name:   name,
				Price:  database.DecimalToNumeric(decimal.RequireFromString(price)),
			})
			if err != nil {
				return nil, nil, fmt.Errorf("create modifier %s: %w", name, err)
			}
			modifierIDs = append(modifierIDs, m.ID)
		}
		log.Printf("Created dish '%s' (ID: %d) with %d modifiers", d.name, dish.ID, len(d.modifiers))
	}
	return dishIDs, modifierIDs, nil
}

func seedPromoCodes(ctx context.Context, q *database.Queries) error {
	now := time.Now()
	maxDiscount := decimal.NewFromInt(1000)
	minOrder := decimal.NewFromInt(3000)

	codes := []database.CreatePromoCodeParams{
		{
			Code:              "WELCOME10",
			Name:              "10% off your first order",
			DiscountType:      enum.DiscountTypePercentage,
			DiscountValue:     database.DecimalToNumeric(decimal.NewFromInt(10)),
			MaxDiscountAmount: database.OptionalNumeric(&maxDiscount),
			UsageLimitPerUser: 1,
			ValidFrom:         pgtype.Timestamptz{Time: now, Valid: true},
			ValidUntil:        pgtype.Timestamptz{Time: now.AddDate(0, 3, 0), Valid: true},
		},
		{
			Code:              "BIGORDER",
			Name:              "500 off orders from 3000",
			DiscountType:      enum.DiscountTypeFixed,
			DiscountValue:     database.DecimalToNumeric(decimal.NewFromInt(500)),
			MinOrderAmount:    database.OptionalNumeric(&minOrder),
			UsageLimit:        pgtype.Int4{Int32: 100, Valid: true},
			UsageLimitPerUser: 0,
		},
	}

	for _, c := range codes {
		p, err := q.CreatePromoCode(ctx, c)
		if err != nil {
			return fmt.Errorf("create promo code %s: %w", c.Code, err)
		}
		log.Printf("Seeded promo code '%s' (ID: %d)", p.Code, p.ID)
	}
	return nil
}

// invalidateCatalog drops cached menu entries so the API sees fresh rows.
func invalidateCatalog(ctx context.Context, cfg *config.Config, dishIDs, modifierIDs []int64) {
	if cfg.RedisURL == "" || (len(dishIDs) == 0 && len(modifierIDs) == 0) {
		return
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("WARNING: invalid REDIS_URL, catalog cache not cleared: %v", err)
		return
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	cat := catalog.New(nil, rdb, cfg.CatalogCacheTTL)
	for _, id := range dishIDs {
		if err := cat.InvalidateDish(ctx, id); err != nil {
			log.Printf("WARNING: invalidate dish %d: %v", id, err)
		}
	}
	if err := cat.InvalidateModifiers(ctx, modifierIDs...); err != nil {
		log.Printf("WARNING: invalidate modifiers: %v", err)
	}
}
