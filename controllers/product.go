package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-grocery/models"
	"go-grocery/utils"
)

// ProductController handles catalog requests
type ProductController struct {
	Collection *mongo.Collection
	Media      *utils.MediaService
	Logger     *logrus.Logger
}

// NewProductController creates a new ProductController
func NewProductController(client *mongo.Client, media *utils.MediaService, logger *logrus.Logger) *ProductController {
	collection := client.Database(utils.DatabaseName()).Collection("products")
	return &ProductController{
		Collection: collection,
		Media:      media,
		Logger:     logger,
	}
}

// buildProductFilter builds the Mongo filter for the public catalog
// listing: case-insensitive name substring search plus exact category
func buildProductFilter(search, category string) bson.M {
	filter := bson.M{}
	if search != "" {
		filter["name"] = bson.M{"$regex": search, "$options": "i"}
	}
	if category != "" {
		filter["category"] = category
	}
	return filter
}

// buildProductUpdate maps submitted form fields to a partial update.
// Fields absent from the form retain their prior values.
func buildProductUpdate(form url.Values) (bson.M, error) {
	set := bson.M{}
	if v, ok := form["name"]; ok && len(v) > 0 {
		set["name"] = v[0]
	}
	if v, ok := form["description"]; ok && len(v) > 0 {
		set["description"] = v[0]
	}
	if v, ok := form["category"]; ok && len(v) > 0 {
		set["category"] = v[0]
	}
	if v, ok := form["unit"]; ok && len(v) > 0 {
		set["unit"] = v[0]
	}
	if v, ok := form["price"]; ok && len(v) > 0 {
		price, err := strconv.ParseFloat(v[0], 64)
		if err != nil {
			return nil, err
		}
		set["price"] = price
	}
	return set, nil
}

// GetProducts retrieves the catalog, optionally filtered by ?search= and
// ?category=
func (pc *ProductController) GetProducts(w http.ResponseWriter, r *http.Request) {
	filter := buildProductFilter(r.URL.Query().Get("search"), r.URL.Query().Get("category"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.M{"createdAt": -1})
	cursor, err := pc.Collection.Find(ctx, filter, opts)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error fetching products: "+err.Error())
		return
	}
	defer cursor.Close(ctx)

	products := []models.Product{}
	if err := cursor.All(ctx, &products); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error reading products: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, products)
}

// GetProductByID retrieves a single product by ID
func (pc *ProductController) GetProductByID(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id, err := primitive.ObjectIDFromHex(params["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var product models.Product
	if err := pc.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&product); err != nil {
		respondWithError(w, http.StatusNotFound, "Product not found")
		return
	}

	respondWithJSON(w, http.StatusOK, product)
}

// uploadImage forwards an optional "image" file part to the media host
func (pc *ProductController) uploadImage(r *http.Request) (string, error) {
	if pc.Media == nil {
		return "", nil
	}
	return pc.Media.UploadImage(r, "image", "products")
}

// CreateProduct handles adding a new product (Admin only). The request is
// multipart with an optional image file.
func (pc *ProductController) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Product name is required")
		return
	}
	price, err := strconv.ParseFloat(r.FormValue("price"), 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid price")
		return
	}

	imageURL, err := pc.uploadImage(r)
	if err != nil {
		pc.Logger.WithError(err).Error("Image upload failed")
		respondWithError(w, http.StatusInternalServerError, "Error uploading image: "+err.Error())
		return
	}

	product := models.Product{
		Name:        name,
		Description: r.FormValue("description"),
		Price:       price,
		Category:    r.FormValue("category"),
		Unit:        r.FormValue("unit"),
		Image:       imageURL,
		CreatedAt:   time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := pc.Collection.InsertOne(ctx, product)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error creating product: "+err.Error())
		return
	}
	product.ID = result.InsertedID.(primitive.ObjectID)

	pc.Logger.WithFields(logrus.Fields{
		"product_id": product.ID.Hex(),
		"name":       product.Name,
	}).Info("Product created")
	respondWithJSON(w, http.StatusCreated, product)
}

// UpdateProduct handles a partial product update (Admin only). Only fields
// present in the form change; a new image is set only when a file part is
// supplied.
func (pc *ProductController) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id, err := primitive.ObjectIDFromHex(params["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	set, err := buildProductUpdate(r.MultipartForm.Value)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid price")
		return
	}

	imageURL, err := pc.uploadImage(r)
	if err != nil {
		pc.Logger.WithError(err).Error("Image upload failed")
		respondWithError(w, http.StatusInternalServerError, "Error uploading image: "+err.Error())
		return
	}
	if imageURL != "" {
		set["image"] = imageURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if len(set) > 0 {
		result, err := pc.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Error updating product: "+err.Error())
			return
		}
		if result.MatchedCount == 0 {
			respondWithError(w, http.StatusNotFound, "Product not found")
			return
		}
	}

	var product models.Product
	if err := pc.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&product); err != nil {
		respondWithError(w, http.StatusNotFound, "Product not found")
		return
	}
	respondWithJSON(w, http.StatusOK, product)
}

// DeleteProduct handles deleting a product (Admin only)
func (pc *ProductController) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id, err := primitive.ObjectIDFromHex(params["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := pc.Collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Error deleting product: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
}
