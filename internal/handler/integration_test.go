//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dastarkhan/food-api/internal/catalog"
	"github.com/dastarkhan/food-api/internal/config"
	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/dastarkhan/food-api/internal/events"
	"github.com/dastarkhan/food-api/internal/router"
	"github.com/dastarkhan/food-api/internal/ws"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

type integrationEnv struct {
	server  *httptest.Server
	pool    *pgxpool.Pool
	queries *database.Queries
	dishID  int64
	extraID int64
}

// TestIntegrationOrderFlow runs a guest delivery order through every status
// against a real PostgreSQL database.
func TestIntegrationOrderFlow(t *testing.T) {
	ctx := context.Background()
	env := setupIntegration(t, ctx)

	createUser(t, ctx, env.queries, "Admin", "admin@test.com", enum.UserRoleAdmin)
	createUser(t, ctx, env.queries, "Kitchen", "kitchen@test.com", enum.UserRoleKitchen)
	courier := createUser(t, ctx, env.queries, "Courier", "courier@test.com", enum.UserRoleCourier)
	createPromo(t, ctx, env.queries, "TENOFF", enum.DiscountTypePercentage, "10", nil)

	adminToken := login(t, env.server, "admin@test.com", "password123")
	kitchenToken := login(t, env.server, "kitchen@test.com", "password123")
	courierToken := login(t, env.server, "courier@test.com", "password123")

	// --- 1. Guest places a delivery order with a modifier and a promo ---
	order := expectStatus(t, http.StatusCreated)(doJSON(t, env.server, "POST", "/orders", map[string]interface{}{
		"customer_name":    "Aida",
		"customer_phone":   "+77010000007",
		"delivery_type":    "delivery",
		"delivery_address": map[string]interface{}{"street": "Abay 10", "apartment": "5"},
		"promo_code":       "tenoff",
		"items": []map[string]interface{}{
			{"dish_id": env.dishID, "quantity": 2, "modifier_ids": []int64{env.extraID}},
		},
	}, ""))
	orderID := int64(order["id"].(float64))

	// (1500 + 300) * 2 = 3600, 10% off = 360, delivery 500
	assertField(t, order, "subtotal", "3600.00")
	assertField(t, order, "discount_amount", "360.00")
	assertField(t, order, "delivery_fee", "500.00")
	assertField(t, order, "total_amount", "3740.00")
	assertField(t, order, "status", enum.OrderStatusPending)
	assertField(t, order, "promo_code", "TENOFF")

	// --- 2. Staff walk it through the lifecycle ---
	path := fmt.Sprintf("/orders/%d/status", orderID)
	patchStatus(t, env.server, "/admin"+path, enum.OrderStatusConfirmed, adminToken)
	patchStatus(t, env.server, "/kitchen"+path, enum.OrderStatusPreparing, kitchenToken)
	patchStatus(t, env.server, "/kitchen"+path, enum.OrderStatusReady, kitchenToken)

	assigned := expectStatus(t, http.StatusOK)(doJSON(t, env.server, "PATCH", fmt.Sprintf("/admin/orders/%d/assign", orderID),
		map[string]interface{}{"courier_id": courier}, adminToken))
	assertField(t, assigned, "status", enum.OrderStatusDelivering)

	final := patchStatus(t, env.server, "/courier"+path, enum.OrderStatusDelivered, courierToken)
	if final["delivered_at"] == nil {
		t.Error("delivered_at not set")
	}

	// --- 3. Terminal orders reject further changes ---
	status, body := doJSON(t, env.server, "PATCH", "/admin"+path, map[string]interface{}{"status": enum.OrderStatusCancelled}, adminToken)
	if status != http.StatusConflict {
		t.Fatalf("cancel delivered order: got %d, want 409 (%v)", status, body)
	}

	// --- 4. The courier sees the order in their deliveries ---
	list := expectStatus(t, http.StatusOK)(doJSON(t, env.server, "GET", "/courier/orders", nil, courierToken))
	orders := list["orders"].([]interface{})
	if len(orders) != 1 || int64(orders[0].(map[string]interface{})["id"].(float64)) != orderID {
		t.Errorf("courier orders: got %v", orders)
	}
}

// TestIntegrationPromoUsageLimit fires concurrent applications at a promo
// with a single use and expects exactly one to win.
func TestIntegrationPromoUsageLimit(t *testing.T) {
	ctx := context.Background()
	env := setupIntegration(t, ctx)

	limit := int32(1)
	createPromo(t, ctx, env.queries, "ONCE", enum.DiscountTypeFixed, "100", &limit)

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, _ := doJSON(t, env.server, "POST", "/promo-codes/ONCE/apply", map[string]interface{}{
				"order_total":    "1000",
				"customer_name":  fmt.Sprintf("Guest %d", i),
				"customer_phone": fmt.Sprintf("+7701000%04d", i),
			}, "")
			mu.Lock()
			statuses[status]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if statuses[http.StatusOK] != 1 || statuses[http.StatusConflict] != attempts-1 {
		t.Fatalf("statuses: got %v, want 1x200 and %dx409", statuses, attempts-1)
	}

	p, err := env.queries.GetPromoCodeByCode(ctx, "ONCE")
	if err != nil {
		t.Fatalf("get promo: %v", err)
	}
	if p.TotalUsed != 1 {
		t.Errorf("total_used: got %d, want 1", p.TotalUsed)
	}
}

// TestIntegrationCancelReleasesPromo checks that cancelling an order gives
// its promo use back.
func TestIntegrationCancelReleasesPromo(t *testing.T) {
	ctx := context.Background()
	env := setupIntegration(t, ctx)

	createUser(t, ctx, env.queries, "Admin", "admin@test.com", enum.UserRoleAdmin)
	limit := int32(1)
	createPromo(t, ctx, env.queries, "ONCE", enum.DiscountTypeFixed, "100", &limit)
	adminToken := login(t, env.server, "admin@test.com", "password123")

	newOrder := func() (int, map[string]interface{}) {
		return doJSON(t, env.server, "POST", "/orders", map[string]interface{}{
			"customer_name":  "Aida",
			"customer_phone": "+77010000007",
			"delivery_type":  "pickup",
			"promo_code":     "ONCE",
			"items":          []map[string]interface{}{{"dish_id": env.dishID, "quantity": 1}},
		}, "")
	}

	order := expectStatus(t, http.StatusCreated)(newOrder())
	assertField(t, order, "total_amount", "1400.00")

	status, body := newOrder()
	if status != http.StatusConflict {
		t.Fatalf("second order with exhausted promo: got %d, want 409 (%v)", status, body)
	}

	patchStatus(t, env.server, fmt.Sprintf("/admin/orders/%d/status", int64(order["id"].(float64))), enum.OrderStatusCancelled, adminToken)

	p, err := env.queries.GetPromoCodeByCode(ctx, "ONCE")
	if err != nil {
		t.Fatalf("get promo: %v", err)
	}
	if p.TotalUsed != 0 {
		t.Errorf("total_used after cancel: got %d, want 0", p.TotalUsed)
	}

	expectStatus(t, http.StatusCreated)(newOrder())
}

// --- Setup helpers ---

func setupIntegration(t *testing.T, ctx context.Context) *integrationEnv {
	t.Helper()

	_, connStr, cleanup := setupPostgresContainer(t, ctx)
	t.Cleanup(cleanup)

	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	cfg := &config.Config{
		Port:                 "8081",
		DatabaseURL:          connStr,
		JWTSecret:            "integration-test-secret",
		DeliveryFee:          decimal.NewFromInt(500),
		ReleasePromoOnCancel: true,
	}
	queries := database.New(pool)
	hub := ws.NewHub()
	go hub.Run()

	r := router.New(cfg, queries, pool, hub,
		catalog.New(queries, nil, time.Minute),
		events.NewFanout(events.NewHubPublisher(hub)))

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	env := &integrationEnv{server: server, pool: pool, queries: queries}
	env.dishID, env.extraID = createMenu(t, ctx, queries)
	return env
}

func setupPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("food_test"),
		tcpostgres.WithUsername("food"),
		tcpostgres.WithPassword("food"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}

	return pgContainer, connStr, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	// golang-migrate's postgres driver wants a database/sql handle.
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	// Go test sets cwd to the package directory (internal/handler/).
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func createMenu(t *testing.T, ctx context.Context, q *database.Queries) (dishID, modifierID int64) {
	t.Helper()
	dish, err := q.CreateDish(ctx, database.CreateDishParams{
		Name:        "Plov",
		Price:       database.DecimalToNumeric(decimal.NewFromInt(1500)),
		IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("create dish: %v", err)
	}
	mod, err := q.CreateDishModifier(ctx, database.CreateDishModifierParams{
		DishID: dish.ID,
		Name:   "Extra meat",
		Price:  database.DecimalToNumeric(decimal.NewFromInt(300)),
	})
	if err != nil {
		t.Fatalf("create modifier: %v", err)
	}
	return dish.ID, mod.ID
}

func createUser(t *testing.T, ctx context.Context, q *database.Queries, name, email, role string) int64 {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u, err := q.CreateUser(ctx, database.CreateUserParams{
		Name:           name,
		Email:          database.Text(email),
		HashedPassword: pgtype.Text{String: string(hashed), Valid: true},
		Role:           role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u.ID
}

func createPromo(t *testing.T, ctx context.Context, q *database.Queries, code, discountType, value string, limit *int32) {
	t.Helper()
	params := database.CreatePromoCodeParams{
		Code:          code,
		Name:          code,
		DiscountType:  discountType,
		DiscountValue: database.DecimalToNumeric(decimal.RequireFromString(value)),
	}
	if limit != nil {
		params.UsageLimit = pgtype.Int4{Int32: *limit, Valid: true}
	}
	if _, err := q.CreatePromoCode(ctx, params); err != nil {
		t.Fatalf("create promo %s: %v", code, err)
	}
}

// --- API call helpers ---

func login(t *testing.T, server *httptest.Server, email, password string) string {
	t.Helper()
	resp := expectStatus(t, http.StatusOK)(doJSON(t, server, "POST", "/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
	}, ""))
	token, ok := resp["access_token"].(string)
	if !ok || token == "" {
		t.Fatalf("login failed: no access_token in response: %+v", resp)
	}
	return token
}

func patchStatus(t *testing.T, server *httptest.Server, path, status, token string) map[string]interface{} {
	t.Helper()
	resp := expectStatus(t, http.StatusOK)(doJSON(t, server, "PATCH", path, map[string]interface{}{"status": status}, token))
	assertField(t, resp, "status", status)
	return resp
}

func assertField(t *testing.T, body map[string]interface{}, key, want string) {
	t.Helper()
	if got, _ := body[key].(string); got != want {
		t.Errorf("%s: got %v, want %s", key, body[key], want)
	}
}

// --- HTTP helpers ---

func expectStatus(t *testing.T, want int) func(int, map[string]interface{}) map[string]interface{} {
	t.Helper()
	return func(got int, body map[string]interface{}) map[string]interface{} {
		t.Helper()
		if got != want {
			t.Fatalf("status: got %d, want %d, body: %v", got, want, body)
		}
		return body
	}
}

// doJSON is safe to call from goroutines: it never fails the test itself on
// a bad status.
func doJSON(t *testing.T, server *httptest.Server, method, path string, body map[string]interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Errorf("marshal body: %v", err)
			return 0, nil
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Errorf("create request: %v", err)
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Errorf("do request: %v", err)
		return 0, nil
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result) //nolint:errcheck
	return resp.StatusCode, result
}
