package utils

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"go-grocery/models"
)

// EnsureAdmin guarantees that exactly one seeded admin account exists at
// first boot, created from ADMIN_EMAIL and ADMIN_PASSWORD
func EnsureAdmin(ctx context.Context, users *mongo.Collection) error {
	count, err := users.CountDocuments(ctx, bson.M{"role": "admin"})
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" {
		email = "admin@grocery.local"
	}
	if password == "" {
		password = "admin"
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := models.User{
		Name:      "Admin",
		Email:     email,
		Password:  string(hashed),
		Role:      "admin",
		Cart:      []models.CartItem{},
		Addresses: []models.Address{},
		CreatedAt: time.Now(),
	}
	_, err = users.InsertOne(ctx, admin)
	return err
}
