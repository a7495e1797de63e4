package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/menu"
	"github.com/xenking/teamcart/internal/handler"
	"github.com/xenking/teamcart/internal/repository"
)

type menuItemJSON struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Available    *bool           `json:"available,omitempty"`
	Options      []menu.Option   `json:"options,omitempty"`
}

type couponJSON struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	Scope        coupon.Scope    `json:"scope"`
	MinItems     int             `json:"min_items"`
	MaxDiscount  decimal.Decimal `json:"max_discount"`
	Description  string          `json:"description"`
	ValidUntil   *time.Time      `json:"valid_until,omitempty"`
	MaxUses      int             `json:"max_uses"`
	PerUserLimit int             `json:"per_user_limit"`
}

func main() {
	var (
		databaseURL string
		menuFile    string
		couponsFile string
		jwtSecret   string
		tokenUsers  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&menuFile, "menu-file", "db/seed/menu.json", "path to menu items JSON file")
	flag.StringVar(&couponsFile, "coupons-file", "db/seed/coupons.json", "path to coupons JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print development bearer tokens signed with this secret (or TEAMCART_AUTH_JWTSECRET env)")
	flag.StringVar(&tokenUsers, "token-users", "alice,bob", "comma-separated user ids to print tokens for")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("TEAMCART_AUTH_JWTSECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, menuFile, couponsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if jwtSecret != "" {
		if err := printTokens(jwtSecret, tokenUsers); err != nil {
			slog.Error("issue tokens", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, menuFile, couponsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedMenu(ctx, repository.NewMenuRepository(pool), menuFile); err != nil {
		return errors.Wrap(err, "seed menu")
	}

	if err := seedCoupons(ctx, repository.NewCouponRepository(pool), couponsFile); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func seedMenu(ctx context.Context, repo *repository.MenuRepository, path string) error {
	slog.Info("reading menu file", slog.String("path", path))

	var items []menuItemJSON
	if err := readJSON(path, &items); err != nil {
		return err
	}

	slog.Info("upserting menu items", slog.Int("count", len(items)))

	for _, it := range items {
		available := it.Available == nil || *it.Available
		if err := repo.Upsert(ctx, menu.Item{
			ID:           it.ID,
			RestaurantID: it.RestaurantID,
			Name:         it.Name,
			Category:     it.Category,
			Price:        it.Price,
			Available:    available,
			Options:      it.Options,
		}); err != nil {
			return err
		}

		slog.Info("upserted menu item", slog.String("id", it.ID), slog.String("name", it.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository, path string) error {
	slog.Info("reading coupons file", slog.String("path", path))

	var coupons []couponJSON
	if err := readJSON(path, &coupons); err != nil {
		return err
	}

	for _, c := range coupons {
		if err := repo.Upsert(ctx, coupon.Rule{
			ID:           coupon.ID(c.ID),
			Code:         c.Code,
			DiscountType: coupon.DiscountType(c.DiscountType),
			Value:        c.Value,
			Scope:        c.Scope,
			MinItems:     c.MinItems,
			MaxDiscount:  c.MaxDiscount,
			Description:  c.Description,
			ValidUntil:   c.ValidUntil,
			MaxUses:      c.MaxUses,
			PerUserLimit: c.PerUserLimit,
		}); err != nil {
			return err
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func printTokens(secret, users string) error {
	auth := handler.NewAuthenticator(secret, "teamcart")
	for user := range strings.SplitSeq(users, ",") {
		user = strings.TrimSpace(user)
		if user == "" {
			continue
		}
		token, err := auth.IssueToken(user, 30*24*time.Hour)
		if err != nil {
			return errors.Wrapf(err, "token for %s", user)
		}
		fmt.Printf("%s\t%s\n", user, token)
	}
	return nil
}
