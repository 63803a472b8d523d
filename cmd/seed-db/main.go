// Command seed-db loads the sample catalog and a default admin account into
// the database. It is idempotent: books upsert on (title, author) and the
// admin user inserts only when the email is free.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/firehorse/bookstore/internal/storage/postgres"
)

type bookJSON struct {
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url"`
}

const upsertBookSQL = `
INSERT INTO books (title, author, category, description, price, stock, image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (title, author) DO UPDATE SET
    category    = EXCLUDED.category,
    description = EXCLUDED.description,
    price       = EXCLUDED.price,
    stock       = EXCLUDED.stock,
    image_url   = EXCLUDED.image_url,
    updated_at  = now()`

const insertAdminSQL = `
INSERT INTO users (name, email, password_hash)
VALUES ($1, $2, $3)
ON CONFLICT (email) DO NOTHING`

func main() {
	var (
		databaseURL   string
		booksFile     string
		adminEmail    string
		adminPassword string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&booksFile, "books-file", "db/seed/books.json", "path to books JSON file")
	flag.StringVar(&adminEmail, "admin-email", "admin@bookstore.local", "email for the seeded admin account")
	flag.StringVar(&adminPassword, "admin-password", "", "password for the seeded admin account (or BOOKSTORE_ADMIN_PASSWORD env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminPassword == "" {
		adminPassword = os.Getenv("BOOKSTORE_ADMIN_PASSWORD")
	}
	if adminPassword == "" {
		slog.Error("admin password is required: set --admin-password or BOOKSTORE_ADMIN_PASSWORD")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, booksFile, adminEmail, adminPassword); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, booksFile, adminEmail, adminPassword string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedBooks(ctx, pool, booksFile); err != nil {
		return errors.Wrap(err, "seed books")
	}

	if err := seedAdmin(ctx, pool, adminEmail, adminPassword); err != nil {
		return errors.Wrap(err, "seed admin user")
	}

	return nil
}

func seedBooks(ctx context.Context, pool *pgxpool.Pool, booksFile string) error {
	slog.Info("reading books file", slog.String("path", booksFile))

	data, err := os.ReadFile(booksFile)
	if err != nil {
		return errors.Wrap(err, "read books file")
	}

	var books []bookJSON
	if err := json.Unmarshal(data, &books); err != nil {
		return errors.Wrap(err, "parse books JSON")
	}

	slog.Info("upserting books", slog.Int("count", len(books)))

	for _, b := range books {
		if _, err := pool.Exec(ctx, upsertBookSQL,
			b.Title, b.Author, b.Category, b.Description, b.Price, b.Stock, b.ImageURL,
		); err != nil {
			return errors.Wrapf(err, "upsert book %q", b.Title)
		}

		slog.Info("upserted book", slog.String("title", b.Title), slog.String("author", b.Author))
	}

	return nil
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, email, password string) error {
	slog.Info("seeding admin user", slog.String("email", email))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash admin password")
	}

	tag, err := pool.Exec(ctx, insertAdminSQL, "Administrator", email, string(hash))
	if err != nil {
		return errors.Wrap(err, "insert admin user")
	}
	if tag.RowsAffected() == 0 {
		slog.Info("admin user already exists, skipping")
	}

	return nil
}
