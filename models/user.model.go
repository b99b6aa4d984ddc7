package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Address represents a delivery address in a user's address book
type Address struct {
	Name    string `bson:"name" json:"name"`
	Phone   string `bson:"phone" json:"phone"`
	Line1   string `bson:"line1" json:"line1"`
	Line2   string `bson:"line2,omitempty" json:"line2,omitempty"`
	City    string `bson:"city" json:"city"`
	Pincode string `bson:"pincode" json:"pincode"`
	Notes   string `bson:"notes,omitempty" json:"notes,omitempty"`
}

// CartItem represents an item in the user's cart
type CartItem struct {
	ProductID primitive.ObjectID `bson:"productId" json:"productId" validate:"required"`
	Quantity  int                `bson:"quantity" json:"quantity" validate:"required,min=1"`
}

// User represents a user in the system. Guest checkout creates a throwaway
// user with a generated placeholder email so every order still has an owner.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name      string             `bson:"name" json:"name"`
	Email     string             `bson:"email" json:"email"`
	Password  string             `bson:"password,omitempty" json:"-"`
	Phone     string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Role      string             `bson:"role" json:"role"` // "user" or "admin"
	Cart      []CartItem         `bson:"cart" json:"cart"`
	Addresses []Address          `bson:"addresses" json:"addresses"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}
