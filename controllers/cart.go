package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"go-grocery/models"
	"go-grocery/utils"
)

// CartController handles cart requests. The cart lives on the user
// document, not in its own collection.
type CartController struct {
	Users  *mongo.Collection
	Logger *logrus.Logger
}

// NewCartController creates a new CartController
func NewCartController(client *mongo.Client, logger *logrus.Logger) *CartController {
	collection := client.Database(utils.DatabaseName()).Collection("users")
	return &CartController{
		Users:  collection,
		Logger: logger,
	}
}

// mergeCartItem adds the item to the cart, folding the quantity into an
// existing line for the same product
func mergeCartItem(cart []models.CartItem, item models.CartItem) []models.CartItem {
	for i, existing := range cart {
		if existing.ProductID == item.ProductID {
			cart[i].Quantity += item.Quantity
			return cart
		}
	}
	return append(cart, item)
}

// GetCart retrieves the user's cart
func (cc *CartController) GetCart(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var user models.User
	if err := cc.Users.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	if user.Cart == nil {
		user.Cart = []models.CartItem{}
	}
	respondWithJSON(w, http.StatusOK, user.Cart)
}

// AddToCart adds a product to the user's cart
func (cc *CartController) AddToCart(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	var item models.CartItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := validate.Struct(item); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var user models.User
	if err := cc.Users.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	cart := mergeCartItem(user.Cart, item)
	if _, err := cc.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{"cart": cart}}); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error updating cart: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, cart)
}

// RemoveFromCart removes a product from the user's cart
func (cc *CartController) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	params := mux.Vars(r)
	productID, err := primitive.ObjectIDFromHex(params["product_id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := cc.Users.UpdateOne(ctx,
		bson.M{"email": claims.Email},
		bson.M{"$pull": bson.M{"cart": bson.M{"productId": productID}}},
	)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error updating cart: "+err.Error())
		return
	}
	if result.MatchedCount == 0 {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Item removed from cart"})
}
