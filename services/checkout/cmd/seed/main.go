// Package main seeds the checkout database with an eyewear catalog so the
// storefront and the checkout flow can be exercised locally.
//
// Run: go run ./services/checkout/cmd/seed            (reads .env, then the environment)
//
//	go run ./services/checkout/cmd/seed -reset     (also empties orders and movements)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgconfig "github.com/buja23/OpiticaPruden/pkg/config"
	"github.com/buja23/OpiticaPruden/pkg/database"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/domain"
	"github.com/buja23/OpiticaPruden/services/checkout/migrations"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

type seedConfig struct {
	DatabaseURL  string `env:"DATABASE_URL"`
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"optica"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"optica_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"optica"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
}

func (c seedConfig) postgres() database.PostgresConfig {
	return database.PostgresConfig{
		URL:      c.DatabaseURL,
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPass,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSL,
	}
}

// --------------------------------------------------------------------------
// Catalog
// --------------------------------------------------------------------------

type productDef struct {
	name          string
	description   string
	priceSale     string
	priceOriginal string
	image         string
	stock         int
}

var catalog = []productDef{
	{"Aviador Classic Dourado", "Armação metálica dourada com lentes verdes G-15 e proteção UV400.", "129.90", "189.90", "aviador-classic.jpg", 25},
	{"Aviador Classic Prata", "Armação metálica prata com lentes espelhadas azuis.", "139.90", "", "aviador-prata.jpg", 18},
	{"Wayfarer Tartaruga", "Acetato tartaruga, lentes marrons polarizadas.", "349.90", "399.90", "wayfarer-tartaruga.jpg", 12},
	{"Wayfarer Preto Fosco", "Acetato preto fosco, lentes cinza.", "299.90", "", "wayfarer-preto.jpg", 30},
	{"Clubmaster Preto", "Frente em acetato com aro metálico, lentes verdes.", "289.00", "", "clubmaster-preto.jpg", 10},
	{"Redondo Dourado", "Armação redonda metálica, lentes degradê.", "199.90", "249.90", "redondo-dourado.jpg", 8},
	{"Gatinho Vinho", "Acetato vinho translúcido, lentes marrons degradê.", "219.90", "", "gatinho-vinho.jpg", 15},
	{"Hexagonal Grafite", "Metal grafite, lentes cinza polarizadas.", "259.90", "", "hexagonal-grafite.jpg", 6},
	{"Esportivo Shield", "Lente única envolvente para ciclismo e corrida.", "399.00", "459.00", "shield-esportivo.jpg", 4},
	{"Infantil Flex Azul", "Armação flexível de silicone para crianças de 3 a 6 anos.", "99.90", "", "infantil-flex-azul.jpg", 40},
	{"Receituário Retangular Acetato", "Armação para grau em acetato preto, aceita lentes multifocais.", "249.90", "", "rx-retangular.jpg", 20},
	{"Receituário Titanium Leve", "Armação em titânio de 12 g para grau.", "459.90", "529.90", "rx-titanium.jpg", 3},
	{"Clip-on Magnético", "Armação para grau com clip solar magnético.", "329.90", "", "clip-on.jpg", 0},
}

func main() {
	reset := flag.Bool("reset", false, "delete orders, order items and stock movements before seeding")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[seed] ")

	var cfg seedConfig
	if err := pkgconfig.LoadDotenv(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Println("Connecting to checkout database...")
	pgCfg := cfg.postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()
	log.Println("Connected.")

	if err := database.RunMigrations(ctx, pool, migrations.FS, slog.Default()); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	if *reset {
		log.Println("Resetting orders and stock movements...")
		if _, err := pool.Exec(ctx, `TRUNCATE stock_movements, order_items, orders RESTART IDENTITY`); err != nil {
			log.Fatalf("reset: %v", err)
		}
	}

	log.Printf("Seeding %d products...", len(catalog))
	created, updated, err := seedProducts(ctx, pool)
	if err != nil {
		log.Fatalf("seed products: %v", err)
	}
	log.Printf("Done: %d created, %d restocked.", created, updated)
}

// prices validates the catalog prices of p and returns them in the canonical
// two-place form the NUMERIC columns store. original is nil when the product
// has no list price.
func (p productDef) prices() (sale string, original *string, err error) {
	saleCents, err := domain.ParseCents(p.priceSale)
	if err != nil {
		return "", nil, fmt.Errorf("%q sale price: %w", p.name, err)
	}
	if saleCents <= 0 {
		return "", nil, fmt.Errorf("%q sale price must be positive, got %s", p.name, p.priceSale)
	}
	if p.priceOriginal == "" {
		return domain.FormatCents(saleCents), nil, nil
	}

	origCents, err := domain.ParseCents(p.priceOriginal)
	if err != nil {
		return "", nil, fmt.Errorf("%q original price: %w", p.name, err)
	}
	if origCents < saleCents {
		return "", nil, fmt.Errorf("%q original price %s is below the sale price %s", p.name, p.priceOriginal, p.priceSale)
	}
	orig := domain.FormatCents(origCents)
	return domain.FormatCents(saleCents), &orig, nil
}

// seedProducts inserts missing products by name and resets the stock of the
// existing ones. Each stock change is recorded as a movement so the ledger
// keeps summing to the current stock.
func seedProducts(ctx context.Context, pool *pgxpool.Pool) (created, updated int, err error) {
	err = database.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, p := range catalog {
			sale, original, err := p.prices()
			if err != nil {
				return err
			}

			var (
				id       int64
				oldStock int
			)
			err = tx.QueryRow(ctx, `SELECT id, stock FROM products WHERE name = $1 FOR UPDATE`, p.name).Scan(&id, &oldStock)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				err = tx.QueryRow(ctx,
					`INSERT INTO products (name, description, price_sale, price_original, images, stock)
					 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, ARRAY[$5::TEXT], $6)
					 RETURNING id`,
					p.name, p.description, sale, original, "/images/products/"+p.image, p.stock,
				).Scan(&id)
				if err != nil {
					return fmt.Errorf("insert %q: %w", p.name, err)
				}
				created++
				oldStock = 0
			case err != nil:
				return fmt.Errorf("lookup %q: %w", p.name, err)
			default:
				_, err = tx.Exec(ctx,
					`UPDATE products SET price_sale = $2::NUMERIC, price_original = $3::NUMERIC, stock = $4, updated_at = NOW()
					 WHERE id = $1`,
					id, sale, original, p.stock,
				)
				if err != nil {
					return fmt.Errorf("update %q: %w", p.name, err)
				}
				updated++
			}

			if delta := p.stock - oldStock; delta != 0 {
				_, err = tx.Exec(ctx,
					`INSERT INTO stock_movements (product_id, quantity_change, reason) VALUES ($1, $2, 'seed')`,
					id, delta,
				)
				if err != nil {
					return fmt.Errorf("record movement for %q: %w", p.name, err)
				}
			}
			log.Printf("  Product: %s (id=%d, stock=%d)", p.name, id, p.stock)
		}
		return nil
	})
	return created, updated, err
}
