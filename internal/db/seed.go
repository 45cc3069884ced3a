package db

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"mocksmith/internal/logging"
	"mocksmith/pkg/models"
)

// SeedAdminUser creates the admin account when ADMIN_EMAIL and
// ADMIN_PASSWORD are set. No-op when the account already exists or the
// variables are missing.
func (d *Database) SeedAdminUser() error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	var existing models.User
	if err := d.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := models.User{
		Username:         "admin",
		Email:            email,
		PasswordHash:     string(hash),
		IsActive:         true,
		IsVerified:       true,
		IsAdmin:          true,
		SubscriptionTier: "team",
	}
	if err := d.DB.Create(&admin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logging.S().Infow("admin user seeded", "email", email)
	return nil
}
