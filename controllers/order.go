package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"go-grocery/models"
	"go-grocery/notify"
	"go-grocery/utils"
)

// OrderController handles checkout and order management requests
type OrderController struct {
	Orders       *mongo.Collection
	Users        *mongo.Collection
	Hub          *notify.Hub
	EmailService *utils.EmailService
	Logger       *logrus.Logger
}

// NewOrderController creates a new OrderController
func NewOrderController(client *mongo.Client, hub *notify.Hub, emailService *utils.EmailService, logger *logrus.Logger) *OrderController {
	db := client.Database(utils.DatabaseName())
	return &OrderController{
		Orders:       db.Collection("orders"),
		Users:        db.Collection("users"),
		Hub:          hub,
		EmailService: emailService,
		Logger:       logger,
	}
}

type checkoutRequest struct {
	Items   []models.OrderItem `json:"items" validate:"required,min=1,dive"`
	Total   float64            `json:"total"`
	Address models.Address     `json:"address"`
}

// computeOrderTotal sums the submitted snapshot lines
func computeOrderTotal(items []models.OrderItem) float64 {
	total := 0.0
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// orderTotal trusts the declared total and only derives one from the
// submitted items when the client did not declare any. The live catalog is
// never consulted.
func orderTotal(req checkoutRequest) float64 {
	if req.Total != 0 {
		return req.Total
	}
	return computeOrderTotal(req.Items)
}

// newGuestUser synthesizes a throwaway account for a guest checkout: a
// generated unique placeholder email and a random unusable credential, so
// the order still has an owner
func newGuestUser(address models.Address) (models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(uuid.New().String()), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}
	name := address.Name
	if name == "" {
		name = "Guest"
	}
	return models.User{
		Name:      name,
		Email:     fmt.Sprintf("guest-%s@guest.local", uuid.New().String()),
		Password:  string(hashed),
		Phone:     address.Phone,
		Role:      "user",
		Cart:      []models.CartItem{},
		Addresses: []models.Address{},
		CreatedAt: time.Now(),
	}, nil
}

// placeOrder persists the order and pushes it to connected dashboards.
// Broadcast and email failures never fail the checkout response.
func (oc *OrderController) placeOrder(ctx context.Context, owner models.User, req checkoutRequest) (models.Order, error) {
	order := models.Order{
		UserID:    owner.ID,
		Items:     req.Items,
		Total:     orderTotal(req),
		Address:   req.Address,
		Status:    models.OrderStatusPending,
		CreatedAt: time.Now(),
	}

	result, err := oc.Orders.InsertOne(ctx, order)
	if err != nil {
		return models.Order{}, err
	}
	order.ID = result.InsertedID.(primitive.ObjectID)

	oc.Hub.Broadcast("order_created", order)

	if oc.EmailService != nil {
		go func(email string, order models.Order) {
			if err := oc.EmailService.SendOrderConfirmationEmail(email, order); err != nil {
				oc.Logger.WithError(err).WithField("email", email).Warn("Failed to send order confirmation")
			}
		}(owner.Email, order)
	}

	oc.Logger.WithFields(logrus.Fields{
		"order_id":    order.ID.Hex(),
		"user_id":     owner.ID.Hex(),
		"total":       order.Total,
		"items_count": len(order.Items),
	}).Info("Order placed")
	return order, nil
}

// CreateOrder places an order for the authenticated caller
func (oc *OrderController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Order must contain at least one item")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var user models.User
	if err := oc.Users.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	order, err := oc.placeOrder(ctx, user, req)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create order: "+err.Error())
		return
	}

	// Checkout consumes the cart
	if _, err := oc.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{"cart": []models.CartItem{}}}); err != nil {
		oc.Logger.WithError(err).Warn("Failed to clear cart after checkout")
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"orderId": order.ID.Hex(),
		"total":   order.Total,
		"status":  order.Status,
	})
}

// PlaceGuestOrder places an order without authentication. A throwaway
// account is created to own the order; a crash between the two inserts
// leaves an orphaned guest account, which is accepted.
func (oc *OrderController) PlaceGuestOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Order must contain at least one item")
		return
	}

	guest, err := newGuestUser(req.Address)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create guest account")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := oc.Users.InsertOne(ctx, guest)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create guest account: "+err.Error())
		return
	}
	guest.ID = result.InsertedID.(primitive.ObjectID)

	order, err := oc.placeOrder(ctx, guest, req)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create order: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"orderId": order.ID.Hex(),
		"total":   order.Total,
		"status":  order.Status,
	})
}

// MyOrders retrieves the authenticated caller's order history
func (oc *OrderController) MyOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var user models.User
	if err := oc.Users.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	opts := options.Find().SetSort(bson.M{"createdAt": -1})
	cursor, err := oc.Orders.Find(ctx, bson.M{"userId": user.ID}, opts)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve orders: "+err.Error())
		return
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error decoding orders: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

// ListOrders retrieves all orders (Admin only)
func (oc *OrderController) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.M{"createdAt": -1})
	cursor, err := oc.Orders.Find(ctx, bson.M{}, opts)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve orders: "+err.Error())
		return
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error decoding orders: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

// normalizeOrderStatus applies the status-update defaulting rule: an empty
// status means "completed"; anything outside the known set is rejected
func normalizeOrderStatus(status string) (string, bool) {
	switch status {
	case "":
		return models.OrderStatusCompleted, true
	case models.OrderStatusPending, models.OrderStatusCompleted, models.OrderStatusCancelled:
		return status, true
	default:
		return "", false
	}
}

// canDeleteOrder is the handler-level delete policy: only settled orders
// may be removed. The store itself has no status guard.
func canDeleteOrder(status string) bool {
	return status == models.OrderStatusCompleted || status == models.OrderStatusCancelled
}

// UpdateOrderStatus changes an order's status (Admin only)
func (oc *OrderController) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id, err := primitive.ObjectIDFromHex(params["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if r.Body != nil {
		// An empty or absent body defaults the status below
		json.NewDecoder(r.Body).Decode(&req)
	}

	status, ok := normalizeOrderStatus(req.Status)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid order status")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := oc.Orders.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update order status: "+err.Error())
		return
	}
	if result.MatchedCount == 0 {
		respondWithError(w, http.StatusNotFound, "Order not found")
		return
	}

	oc.Logger.WithFields(logrus.Fields{
		"order_id": id.Hex(),
		"status":   status,
	}).Info("Order status updated")
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Order status updated", "status": status})
}

// DeleteOrder removes a settled order (Admin only). Pending orders are
// rejected at the handler level.
func (oc *OrderController) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id, err := primitive.ObjectIDFromHex(params["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var order models.Order
	if err := oc.Orders.FindOne(ctx, bson.M{"_id": id}).Decode(&order); err != nil {
		respondWithError(w, http.StatusNotFound, "Order not found")
		return
	}

	if !canDeleteOrder(order.Status) {
		respondWithError(w, http.StatusBadRequest, "Only completed or cancelled orders can be deleted")
		return
	}

	if _, err := oc.Orders.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete order: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Order deleted"})
}
