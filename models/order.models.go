package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Order statuses. Transitions are admin-driven only.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// OrderItem is a snapshot of a product taken at placement time. It is a
// copy, not a reference: later edits to the catalog never change it.
type OrderItem struct {
	ProductID primitive.ObjectID `bson:"productId" json:"productId" validate:"required"`
	Name      string             `bson:"name" json:"name" validate:"required"`
	Price     float64            `bson:"price" json:"price"`
	Quantity  int                `bson:"quantity" json:"quantity" validate:"required,min=1"`
}

// Order represents a placed order with its denormalized item and address
// snapshots
type Order struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Items     []OrderItem        `bson:"items" json:"items"`
	Total     float64            `bson:"total" json:"total"`
	Address   Address            `bson:"address" json:"address"`
	Status    string             `bson:"status" json:"status"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}
