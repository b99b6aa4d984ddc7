package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"go-grocery/models"
	"go-grocery/utils"
)

// UserController handles registration, login and profile requests
type UserController struct {
	Collection *mongo.Collection
	Logger     *logrus.Logger
}

// NewUserController creates a new UserController
func NewUserController(client *mongo.Client, logger *logrus.Logger) *UserController {
	collection := client.Database(utils.DatabaseName()).Collection("users")
	return &UserController{
		Collection: collection,
		Logger:     logger,
	}
}

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Phone    string `json:"phone"`
}

// Register handles user registration
func (uc *UserController) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	// Check if user already exists
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	count, err := uc.Collection.CountDocuments(ctx, bson.M{"email": req.Email})
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if count > 0 {
		respondWithError(w, http.StatusBadRequest, "User already exists")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error hashing password")
		return
	}

	user := models.User{
		Name:      req.Name,
		Email:     req.Email,
		Password:  string(hashedPassword),
		Phone:     req.Phone,
		Role:      "user", // Default role
		Cart:      []models.CartItem{},
		Addresses: []models.Address{},
		CreatedAt: time.Now(),
	}

	result, err := uc.Collection.InsertOne(ctx, user)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error creating user: "+err.Error())
		return
	}
	user.ID = result.InsertedID.(primitive.ObjectID)

	token, err := utils.GenerateJWT(user.Email, user.Role, user.Name)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error generating token")
		return
	}

	uc.Logger.WithField("email", user.Email).Info("User registered")
	user.Password = ""
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// Login handles user authentication
func (uc *UserController) Login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := validate.Struct(creds); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var user models.User
	if err := uc.Collection.FindOne(ctx, bson.M{"email": creds.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := utils.GenerateJWT(user.Email, user.Role, user.Name)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error generating token")
		return
	}

	user.Password = ""
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// GetProfile retrieves the authenticated user's profile
func (uc *UserController) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var user models.User
	if err := uc.Collection.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	user.Password = ""
	respondWithJSON(w, http.StatusOK, user)
}

type profileUpdateRequest struct {
	Name      *string           `json:"name"`
	Phone     *string           `json:"phone"`
	Addresses *[]models.Address `json:"addresses"`
}

// UpdateProfile updates the fields present in the request and leaves the
// rest untouched
func (uc *UserController) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}

	set := bson.M{}
	if req.Name != nil {
		set["name"] = *req.Name
	}
	if req.Phone != nil {
		set["phone"] = *req.Phone
	}
	if req.Addresses != nil {
		set["addresses"] = *req.Addresses
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if len(set) > 0 {
		result, err := uc.Collection.UpdateOne(ctx, bson.M{"email": claims.Email}, bson.M{"$set": set})
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Error updating profile: "+err.Error())
			return
		}
		if result.MatchedCount == 0 {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
	}

	var user models.User
	if err := uc.Collection.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	user.Password = ""
	respondWithJSON(w, http.StatusOK, user)
}

type credentialsUpdateRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewEmail        string `json:"newEmail" validate:"omitempty,email"`
	NewPassword     string `json:"newPassword" validate:"omitempty,min=6"`
}

// UpdateCredentials changes the caller's email and/or password after
// verifying the current password. Omitted fields are left unchanged.
func (uc *UserController) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	claims, ok := userClaims(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Could not parse user from context")
		return
	}

	var req credentialsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var user models.User
	if err := uc.Collection.FindOne(ctx, bson.M{"email": claims.Email}).Decode(&user); err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		respondWithError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	set := bson.M{}
	if req.NewEmail != "" && req.NewEmail != user.Email {
		count, err := uc.Collection.CountDocuments(ctx, bson.M{"email": req.NewEmail})
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Database error: "+err.Error())
			return
		}
		if count > 0 {
			respondWithError(w, http.StatusBadRequest, "Email already in use")
			return
		}
		set["email"] = req.NewEmail
		user.Email = req.NewEmail
	}
	if req.NewPassword != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Error hashing password")
			return
		}
		set["password"] = string(hashed)
	}

	if len(set) > 0 {
		if _, err := uc.Collection.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": set}); err != nil {
			respondWithError(w, http.StatusInternalServerError, "Error updating credentials: "+err.Error())
			return
		}
	}

	// Re-issue the token so the claims track an email change
	token, err := utils.GenerateJWT(user.Email, user.Role, user.Name)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error generating token")
		return
	}

	user.Password = ""
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}
