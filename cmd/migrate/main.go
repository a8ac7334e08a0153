package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/internal/auth"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/repo"
	"github.com/ovaphlow/pitchfork/service-member/pkg/database"
	"github.com/ovaphlow/pitchfork/service-member/pkg/utilities"
)

func main() {
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("running service-member migrations")

	// init db
	db, err := database.Open(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	members := repo.NewMemberRepo(db)
	if err := members.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure members table: %v", err)
	}
	sugar.Info("members table ready")

	if err := seedAdmin(ctx, members, sugar); err != nil {
		sugar.Fatalf("seed admin: %v", err)
	}
	sugar.Info("done")
}

// seedAdmin inserts an ADMIN member from ADMIN_* variables when ADMIN_EMAIL
// and ADMIN_PASSWORD are set and no member owns that email yet.
func seedAdmin(ctx context.Context, members *repo.MemberRepo, logger *zap.SugaredLogger) error {
	email := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		logger.Info("ADMIN_EMAIL or ADMIN_PASSWORD not set; skipping admin seed")
		return nil
	}

	_, err := members.FindByEmail(ctx, email)
	switch {
	case err == nil:
		logger.Infow("admin already present", "email", utilities.MaskEmail(email))
		return nil
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}

	hash, err := auth.BcryptHasher{Cost: 12}.Hash(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = "Administrator"
	}
	now := time.Now().UTC()
	admin := &entity.Member{
		ID:           utilities.NewMemberID(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		PhoneNumber:  strings.TrimSpace(os.Getenv("ADMIN_PHONE")),
		Roles:        []string{"ADMIN"},
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := members.Insert(ctx, admin); err != nil {
		return err
	}
	logger.Infow("admin seeded", "email", utilities.MaskEmail(email), "id", admin.ID)
	return nil
}
