package routes

import (
	"go-grocery/controllers"
	"go-grocery/middleware"
	"go-grocery/notify"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the routes for the application
func RegisterRoutes(router *mux.Router, userController *controllers.UserController, productController *controllers.ProductController, cartController *controllers.CartController, orderController *controllers.OrderController, hub *notify.Hub) {
	api := router.PathPrefix("/api").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", userController.Register).Methods("POST")
	api.HandleFunc("/auth/login", userController.Login).Methods("POST")
	api.HandleFunc("/products", productController.GetProducts).Methods("GET")
	api.HandleFunc("/products/{id}", productController.GetProductByID).Methods("GET")
	api.HandleFunc("/placeGuestOrder", orderController.PlaceGuestOrder).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("/").Subrouter()
	protected.Use(middleware.AuthMiddleware)
	protected.HandleFunc("/auth/profile", userController.UpdateCredentials).Methods("PUT")
	protected.HandleFunc("/me", userController.GetProfile).Methods("GET")
	protected.HandleFunc("/me", userController.UpdateProfile).Methods("PUT")
	protected.HandleFunc("/cart", cartController.GetCart).Methods("GET")
	protected.HandleFunc("/cart", cartController.AddToCart).Methods("POST")
	protected.HandleFunc("/cart/{product_id}", cartController.RemoveFromCart).Methods("DELETE")
	protected.HandleFunc("/orders", orderController.CreateOrder).Methods("POST")
	protected.HandleFunc("/orders/my", orderController.MyOrders).Methods("GET")

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AuthMiddleware)
	admin.Use(middleware.AdminMiddleware)
	admin.HandleFunc("/orders", orderController.ListOrders).Methods("GET")
	admin.HandleFunc("/orders/{id}/status", orderController.UpdateOrderStatus).Methods("PUT")
	admin.HandleFunc("/orders/{id}", orderController.DeleteOrder).Methods("DELETE")
	admin.HandleFunc("/products", productController.CreateProduct).Methods("POST")
	admin.HandleFunc("/products/{id}", productController.UpdateProduct).Methods("PUT")
	admin.HandleFunc("/products/{id}", productController.DeleteProduct).Methods("DELETE")

	// Order event streams for admin dashboards
	router.HandleFunc("/events", hub.ServeSSE).Methods("GET")
	router.HandleFunc("/ws/orders", hub.ServeWS).Methods("GET")
}
