// main.go
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"go-grocery/controllers"
	"go-grocery/notify"
	"go-grocery/routes"
	"go-grocery/utils"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found. Proceeding with environment variables.")
	}

	// Set the JWT secret key
	utils.JwtKey = []byte(os.Getenv("JWT_SECRET"))

	// Connect to MongoDB
	client := utils.ConnectDB()
	defer func() {
		if err := client.Disconnect(context.TODO()); err != nil {
			logger.WithError(err).Fatal("Failed to disconnect from MongoDB")
		}
	}()

	// Make sure the seeded admin account exists
	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := utils.EnsureAdmin(seedCtx, client.Database(utils.DatabaseName()).Collection("users")); err != nil {
		cancel()
		logger.WithError(err).Fatal("Failed to seed admin account")
	}
	cancel()

	// Media upload adapter; product images are optional without it
	mediaService, err := utils.NewMediaService()
	if err != nil {
		logger.WithError(err).Warn("Media service disabled")
		mediaService = nil
	}

	// Order confirmation emails; nil when no API key is configured
	emailService := utils.NewEmailService()

	// Order notification fan-out for admin dashboards
	hub := notify.NewHub(logger)

	// Initialize controllers
	userController := controllers.NewUserController(client, logger)
	productController := controllers.NewProductController(client, mediaService, logger)
	cartController := controllers.NewCartController(client, logger)
	orderController := controllers.NewOrderController(client, hub, emailService, logger)

	// Set up the router
	router := mux.NewRouter()
	routes.RegisterRoutes(router, userController, productController, cartController, orderController, hub)

	// Start the server
	port := getEnv("PORT", "8000")
	logger.WithField("port", port).Info("Server is running")
	logger.Fatal(http.ListenAndServe(":"+port, router))
}
