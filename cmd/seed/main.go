// seed creates the initial SuperAdmin account, confirmed and active.
// Run: SEED_ADMIN_EMAIL=... SEED_ADMIN_PASSWORD=... go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ErlanBelekov/farm-market/config"
	"github.com/ErlanBelekov/farm-market/internal/domain"
	"github.com/ErlanBelekov/farm-market/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/farm-market/internal/password"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadSeed()
	if err != nil {
		log.Fatalf("config: %v; set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	users := postgres.NewUserRepository(pool)

	existing, err := users.FindByEmail(ctx, cfg.AdminEmail)
	switch {
	case err == nil:
		if !existing.HasRole(domain.RoleSuperAdmin) {
			if err := users.AddRole(ctx, existing.ID, domain.RoleSuperAdmin); err != nil {
				log.Fatalf("grant SuperAdmin: %v", err)
			}
			fmt.Printf("Granted SuperAdmin to existing user %s (%s)\n", existing.Email, existing.ID)
			return
		}
		fmt.Printf("SuperAdmin %s already exists (%s), nothing to do\n", existing.Email, existing.ID)
		return
	case !errors.Is(err, domain.ErrUserNotFound):
		log.Fatalf("find user: %v", err)
	}

	hash, err := password.NewHasher().Hash(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	admin, err := users.Create(ctx, &domain.User{
		Email:          cfg.AdminEmail,
		Username:       cfg.AdminUsername,
		PasswordHash:   hash,
		EmailConfirmed: true,
		Active:         true,
		Roles:          []domain.Role{domain.RoleSuperAdmin},
	})
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Admin:    %s\n", admin.Email)
	fmt.Printf("  User ID:  %s\n", admin.ID)
	fmt.Println()
	fmt.Println("Get a token:")
	fmt.Println()
	fmt.Printf("    curl -s -X POST http://localhost:8080/api/auth/get-token \\\n")
	fmt.Printf("      -H 'Content-Type: application/json' -H 'Accept: application/json' -A 'Mozilla/5.0' \\\n")
	fmt.Printf("      -d '{\"email\":\"%s\",\"password\":\"...\"}'\n", admin.Email)
}
