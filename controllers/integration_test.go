package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"go-grocery/middleware"
	"go-grocery/models"
	"go-grocery/notify"
	"go-grocery/utils"
)

func withClaims(ctx context.Context, email, role string) context.Context {
	return context.WithValue(ctx, middleware.UserContextKey, &utils.Claims{Email: email, Role: role})
}

// testDatabase connects to the instance named by MONGO_TEST_URI and hands
// back a throwaway database. Tests using it skip when the variable is not
// set.
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database("grocery_test_" + strings.ReplaceAll(uuid.New().String(), "-", ""))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db.Drop(ctx)
		client.Disconnect(ctx)
	})
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestOrderController(db *mongo.Database, hub *notify.Hub) *OrderController {
	return &OrderController{
		Orders: db.Collection("orders"),
		Users:  db.Collection("users"),
		Hub:    hub,
		Logger: quietLogger(),
	}
}

const guestOrderBody = `{
	"items": [{"productId": "%s", "name": "Rice", "price": 90, "quantity": 2}],
	"address": {"name": "A", "phone": "123", "line1": "X", "city": "Y", "pincode": "1"}
}`

func TestGuestOrderFlow(t *testing.T) {
	db := testDatabase(t)
	hub := notify.NewHub(quietLogger())
	oc := newTestOrderController(db, hub)

	early := hub.Subscribe()
	defer hub.Unsubscribe(early)

	productID := primitive.NewObjectID()
	req := httptest.NewRequest(http.MethodPost, "/api/placeGuestOrder",
		strings.NewReader(fmt.Sprintf(guestOrderBody, productID.Hex())))
	rec := httptest.NewRecorder()
	oc.PlaceGuestOrder(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		OrderID string  `json:"orderId"`
		Total   float64 `json:"total"`
		Status  string  `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.OrderID)
	assert.Equal(t, 180.0, created.Total)
	assert.Equal(t, models.OrderStatusPending, created.Status)

	// The admin listing shows the order with the derived total
	listRec := httptest.NewRecorder()
	oc.ListOrders(listRec, httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil))
	require.Equal(t, http.StatusOK, listRec.Code)
	var orders []models.Order
	require.NoError(t, json.NewDecoder(listRec.Body).Decode(&orders))
	require.Len(t, orders, 1)
	assert.Equal(t, 180.0, orders[0].Total)
	assert.Equal(t, models.OrderStatusPending, orders[0].Status)
	assert.False(t, orders[0].UserID.IsZero())

	// The order's owner is a synthesized guest account
	var owner models.User
	require.NoError(t, db.Collection("users").FindOne(context.Background(), bson.M{"_id": orders[0].UserID}).Decode(&owner))
	assert.True(t, strings.HasPrefix(owner.Email, "guest-"))

	// A subscriber connected before checkout receives exactly one event
	select {
	case payload := <-early.Events():
		var msg notify.Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "order_created", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the order event")
	}
	select {
	case payload := <-early.Events():
		t.Fatalf("unexpected extra event %s", payload)
	case <-time.After(50 * time.Millisecond):
	}

	// A subscriber connecting after the checkout sees nothing
	late := hub.Subscribe()
	defer hub.Unsubscribe(late)
	select {
	case payload := <-late.Events():
		t.Fatalf("late subscriber unexpectedly received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrderSnapshotSurvivesCatalogEdits(t *testing.T) {
	db := testDatabase(t)
	oc := newTestOrderController(db, notify.NewHub(quietLogger()))

	product := models.Product{Name: "Rice", Price: 90, CreatedAt: time.Now()}
	result, err := db.Collection("products").InsertOne(context.Background(), product)
	require.NoError(t, err)
	productID := result.InsertedID.(primitive.ObjectID)

	req := httptest.NewRequest(http.MethodPost, "/api/placeGuestOrder",
		strings.NewReader(fmt.Sprintf(guestOrderBody, productID.Hex())))
	rec := httptest.NewRecorder()
	oc.PlaceGuestOrder(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Reprice and rename the product after placement
	_, err = db.Collection("products").UpdateOne(context.Background(),
		bson.M{"_id": productID},
		bson.M{"$set": bson.M{"price": 999.0, "name": "Premium Rice"}})
	require.NoError(t, err)

	var order models.Order
	require.NoError(t, db.Collection("orders").FindOne(context.Background(), bson.M{}).Decode(&order))
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Rice", order.Items[0].Name)
	assert.Equal(t, 90.0, order.Items[0].Price)
	assert.Equal(t, 180.0, order.Total)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := testDatabase(t)
	uc := &UserController{Collection: db.Collection("users"), Logger: quietLogger()}

	body := `{"name": "A", "email": "a@example.com", "password": "secret1"}`

	rec := httptest.NewRecorder()
	uc.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	uc.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The first account remains valid
	rec = httptest.NewRecorder()
	uc.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email": "a@example.com", "password": "secret1"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteOrderPolicy(t *testing.T) {
	db := testDatabase(t)
	oc := newTestOrderController(db, notify.NewHub(quietLogger()))

	insertOrder := func(status string) primitive.ObjectID {
		result, err := db.Collection("orders").InsertOne(context.Background(), models.Order{
			UserID:    primitive.NewObjectID(),
			Items:     []models.OrderItem{{ProductID: primitive.NewObjectID(), Name: "Rice", Price: 90, Quantity: 1}},
			Total:     90,
			Status:    status,
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
		return result.InsertedID.(primitive.ObjectID)
	}

	deleteVia := func(id primitive.ObjectID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/api/admin/orders/"+id.Hex(), nil)
		req = mux.SetURLVars(req, map[string]string{"id": id.Hex()})
		rec := httptest.NewRecorder()
		oc.DeleteOrder(rec, req)
		return rec
	}

	// The handler refuses to delete a pending order
	pending := insertOrder(models.OrderStatusPending)
	assert.Equal(t, http.StatusBadRequest, deleteVia(pending).Code)

	// The raw store has no such guard
	result, err := db.Collection("orders").DeleteOne(context.Background(), bson.M{"_id": pending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedCount)

	// Settled orders delete through the handler
	completed := insertOrder(models.OrderStatusCompleted)
	assert.Equal(t, http.StatusOK, deleteVia(completed).Code)
	cancelled := insertOrder(models.OrderStatusCancelled)
	assert.Equal(t, http.StatusOK, deleteVia(cancelled).Code)
}

func TestCredentialPartialUpdate(t *testing.T) {
	db := testDatabase(t)
	uc := &UserController{Collection: db.Collection("users"), Logger: quietLogger()}

	hashed, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.DefaultCost)
	require.NoError(t, err)
	_, err = db.Collection("users").InsertOne(context.Background(), models.User{
		Name:      "A",
		Email:     "a@example.com",
		Password:  string(hashed),
		Role:      "user",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	updateVia := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/auth/profile", strings.NewReader(body))
		req = req.WithContext(withClaims(req.Context(), "a@example.com", "user"))
		rec := httptest.NewRecorder()
		uc.UpdateCredentials(rec, req)
		return rec
	}

	currentUser := func(email string) models.User {
		var user models.User
		require.NoError(t, db.Collection("users").FindOne(context.Background(), bson.M{"email": email}).Decode(&user))
		return user
	}

	// Current password alone changes nothing
	require.Equal(t, http.StatusOK, updateVia(`{"currentPassword": "secret1"}`).Code)
	after := currentUser("a@example.com")
	assert.Equal(t, string(hashed), after.Password)

	// A new password changes only the hash
	require.Equal(t, http.StatusOK, updateVia(`{"currentPassword": "secret1", "newPassword": "secret2"}`).Code)
	after = currentUser("a@example.com")
	assert.Equal(t, "a@example.com", after.Email)
	assert.NotEqual(t, string(hashed), after.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(after.Password), []byte("secret2")))

	// Wrong current password is rejected
	assert.Equal(t, http.StatusUnauthorized, updateVia(`{"currentPassword": "wrong"}`).Code)
}
