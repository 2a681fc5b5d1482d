package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kamva/mgm/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"listing-bot/core/listings"
	"listing-bot/core/publish"
)

type MongoConf struct {
	// URI takes precedence over the host/user fields.
	URI       string `env:"MONGODB_URL"`
	MongoHost string `env:"MONGO_HOST" default:"localhost"`
	MongoUser string `env:"MONGO_USER"`
	MongoPass string `env:"MONGO_PASSWORD"`
	MongoPort int    `env:"MONGO_PORT" default:"27017"`
	Database  string `env:"MONGO_DB" default:"listings"`
}

func (c *MongoConf) uri() string {
	if c.URI != "" {
		return c.URI
	}
	if c.MongoUser == "" {
		return fmt.Sprintf("mongodb://%s:%d", c.MongoHost, c.MongoPort)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d", c.MongoUser, c.MongoPass, c.MongoHost, c.MongoPort)
}

func NewInsecureMongoCli(conf *MongoConf) (*mongo.Client, error) {
	mongoOptions := options.Client().ApplyURI(conf.uri())
	mongoOptions.Monitor = otelmongo.NewMonitor()

	mongoCli, err := mongo.Connect(context.TODO(), mongoOptions)
	if err != nil {
		return nil, fmt.Errorf("can't create mongodb client: %w", err)
	}

	return mongoCli, nil
}

type listingDoc struct {
	// DefaultModel adds _id, created_at and updated_at fields to the Model.
	mgm.DefaultModel `bson:",inline"`
	Kind             string `bson:"kind"`

	CargoType    string   `bson:"cargoType,omitempty"`
	Weight       *float64 `bson:"weight,omitempty"`
	PricePerUnit *float64 `bson:"pricePerUnit,omitempty"`
	Origin       string   `bson:"origin,omitempty"`
	Destination  string   `bson:"destination,omitempty"`

	Direction      string   `bson:"direction,omitempty"`
	SellCurrency   string   `bson:"sellCurrency,omitempty"`
	BuyCurrency    string   `bson:"buyCurrency,omitempty"`
	Amount         *float64 `bson:"amount,omitempty"`
	Rate           *float64 `bson:"rate,omitempty"`
	City           string   `bson:"city,omitempty"`
	ExchangeMethod string   `bson:"exchangeMethod,omitempty"`

	Comment       string `bson:"comment"`
	OwnerUsername string `bson:"ownerUsername"`
	OwnerChatID   int64  `bson:"ownerChatId"`
}

func toDoc(l listings.Listing) *listingDoc {
	d := &listingDoc{
		Kind:          string(l.Kind),
		Comment:       l.Comment,
		OwnerUsername: l.Owner.Username,
		OwnerChatID:   l.Owner.ChatID,
	}
	if c := l.Cargo; c != nil {
		d.CargoType = c.CargoType
		d.Weight = &c.Weight
		d.PricePerUnit = &c.PricePerUnit
		d.Origin = c.Origin
		d.Destination = c.Destination
	}
	if e := l.Exchange; e != nil {
		d.Direction = string(e.Direction)
		d.SellCurrency = e.SellCurrency
		d.BuyCurrency = e.BuyCurrency
		d.Amount = &e.Amount
		d.Rate = &e.Rate
		d.City = e.City
		d.ExchangeMethod = e.ExchangeMethod
	}
	return d
}

func (d *listingDoc) toListing() listings.Listing {
	l := listings.Listing{
		ID:        d.ID.Hex(),
		Kind:      listings.Kind(d.Kind),
		Comment:   d.Comment,
		Owner:     listings.Owner{Username: d.OwnerUsername, ChatID: d.OwnerChatID},
		CreatedAt: d.CreatedAt.UTC().Truncate(time.Millisecond),
	}

	switch l.Kind {
	case listings.KindCargo:
		l.Cargo = &listings.Cargo{
			CargoType:    d.CargoType,
			Weight:       deref(d.Weight),
			PricePerUnit: deref(d.PricePerUnit),
			Origin:       d.Origin,
			Destination:  d.Destination,
		}
	case listings.KindExchange:
		l.Exchange = &listings.CurrencyExchange{
			Direction:      listings.Direction(d.Direction),
			SellCurrency:   d.SellCurrency,
			BuyCurrency:    d.BuyCurrency,
			Amount:         deref(d.Amount),
			Rate:           deref(d.Rate),
			City:           d.City,
			ExchangeMethod: d.ExchangeMethod,
		}
	}
	return l
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// mongoField maps a logical field name to its document key.
func mongoField(field string) string {
	if field == listings.FieldCreatedAt {
		return "created_at"
	}
	return field
}

type publicationDoc struct {
	ListingID       string        `bson:"_id"`
	OwnerChat       string        `bson:"ownerChat"`
	OwnerMessageID  int           `bson:"ownerMessageId"`
	PublicChat      string        `bson:"publicChat"`
	PublicMessageID int           `bson:"publicMessageId"`
	State           publish.State `bson:"state"`
	Attempts        int           `bson:"attempts"`
	UpdatedAt       time.Time     `bson:"updatedAt"`
}

type Repo struct {
	listings     *mgm.Collection
	publications *mongo.Collection
	users        *mongo.Collection
	db           *mongo.Database
}

func NewMongoRepo(cli *mongo.Client, dbName string) (*Repo, error) {
	db := cli.Database(dbName)
	repo := &Repo{
		listings:     mgm.NewCollection(db, "listings"),
		publications: db.Collection("publications"),
		users:        db.Collection("users"),
		db:           db,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := repo.listings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "kind", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		slog.Warn("cant create index for collection \"listings\"", "err", err)
	}

	_, err = repo.publications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "state", Value: 1}, {Key: "updatedAt", Value: 1}},
	})
	if err != nil {
		slog.Warn("cant create index for collection \"publications\"", "err", err)
	}

	return repo, nil
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

func (r *Repo) Create(ctx context.Context, l listings.Listing) (listings.Listing, error) {
	if err := listings.Validate(l); err != nil {
		return listings.Listing{}, err
	}

	doc := toDoc(l)
	if err := r.listings.CreateWithCtx(ctx, doc); err != nil {
		return listings.Listing{}, &listings.StoreError{Op: "create", Err: err}
	}

	return doc.toListing(), nil
}

func (r *Repo) FindByID(ctx context.Context, id string) (listings.Listing, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return listings.Listing{}, listings.ErrNotFound
	}

	doc := &listingDoc{}
	err = r.listings.FindOne(ctx, bson.M{"_id": oid}).Decode(doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return listings.Listing{}, listings.ErrNotFound
	}
	if err != nil {
		return listings.Listing{}, &listings.StoreError{Op: "find", Err: err}
	}

	return doc.toListing(), nil
}

func (r *Repo) DeleteByID(ctx context.Context, id string) (listings.Listing, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return listings.Listing{}, listings.ErrNotFound
	}

	doc := &listingDoc{}
	err = r.listings.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return listings.Listing{}, listings.ErrNotFound
	}
	if err != nil {
		return listings.Listing{}, &listings.StoreError{Op: "delete", Err: err}
	}

	return doc.toListing(), nil
}

func (r *Repo) Query(ctx context.Context, f listings.Filter) (listings.Page, error) {
	f, err := f.Normalize()
	if err != nil {
		return listings.Page{}, err
	}

	filter := bson.M{}
	if f.Kind != "" {
		filter["kind"] = string(f.Kind)
	}
	for field, v := range f.Equals {
		filter[mongoField(field)] = v
	}
	for field, rg := range f.Ranges {
		cond := bson.M{}
		if rg.Min != nil {
			cond["$gte"] = *rg.Min
		}
		if rg.Max != nil {
			cond["$lte"] = *rg.Max
		}
		filter[mongoField(field)] = cond
	}

	dir := 1
	if f.SortDesc {
		dir = -1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: mongoField(f.SortBy), Value: dir}, {Key: "_id", Value: dir}}).
		SetSkip(f.Skip()).
		SetLimit(int64(f.Limit))

	total, err := r.listings.CountDocuments(ctx, filter)
	if err != nil {
		return listings.Page{}, &listings.StoreError{Op: "count", Err: err}
	}

	cur, err := r.listings.Find(ctx, filter, opts)
	if err != nil {
		return listings.Page{}, &listings.StoreError{Op: "query", Err: err}
	}
	defer cur.Close(context.Background())

	page := listings.Page{Total: total, Items: make([]listings.Listing, 0, f.Limit)}
	for cur.Next(ctx) {
		doc := listingDoc{}
		if err := cur.Decode(&doc); err != nil {
			return listings.Page{}, &listings.StoreError{Op: "query", Err: fmt.Errorf("cant decode cursor's element into listingDoc{}, err:%w", err)}
		}
		page.Items = append(page.Items, doc.toListing())
	}
	if err := cur.Err(); err != nil {
		return listings.Page{}, &listings.StoreError{Op: "query", Err: err}
	}

	return page, nil
}

func (r *Repo) SavePublication(ctx context.Context, p publish.Publication) error {
	doc := publicationDoc{
		ListingID:       p.ListingID,
		OwnerChat:       string(p.OwnerChat),
		OwnerMessageID:  p.OwnerMessageID,
		PublicChat:      string(p.PublicChat),
		PublicMessageID: p.PublicMessageID,
		State:           p.State,
		Attempts:        p.Attempts,
		UpdatedAt:       p.UpdatedAt,
	}

	// a retracted record doesn't match, the upsert then collides on _id
	filter := bson.M{"_id": p.ListingID, "state": bson.M{"$ne": publish.StateRetracted}}
	_, err := r.publications.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return &listings.StoreError{Op: "save publication", Err: err}
	}
	return nil
}

func (r *Repo) FindPublication(ctx context.Context, listingID string) (publish.Publication, error) {
	doc := publicationDoc{}
	err := r.publications.FindOne(ctx, bson.M{"_id": listingID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return publish.Publication{}, listings.ErrNotFound
	}
	if err != nil {
		return publish.Publication{}, &listings.StoreError{Op: "find publication", Err: err}
	}
	return doc.toPublication(), nil
}

func (r *Repo) StalePublications(ctx context.Context, states []publish.State, olderThan time.Time, maxAttempts int) ([]publish.Publication, error) {
	cur, err := r.publications.Find(ctx, bson.M{
		"state":     bson.M{"$in": states},
		"updatedAt": bson.M{"$lt": olderThan},
		"attempts":  bson.M{"$lt": maxAttempts},
	}, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}}).SetLimit(100))
	if err != nil {
		return nil, &listings.StoreError{Op: "stale publications", Err: err}
	}

	var docs []publicationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, &listings.StoreError{Op: "stale publications", Err: err}
	}

	res := make([]publish.Publication, 0, len(docs))
	for i := range docs {
		res = append(res, docs[i].toPublication())
	}
	return res, nil
}

func (d publicationDoc) toPublication() publish.Publication {
	return publish.Publication{
		ListingID:       d.ListingID,
		OwnerChat:       publish.Chat(d.OwnerChat),
		OwnerMessageID:  d.OwnerMessageID,
		PublicChat:      publish.Chat(d.PublicChat),
		PublicMessageID: d.PublicMessageID,
		State:           d.State,
		Attempts:        d.Attempts,
		UpdatedAt:       d.UpdatedAt,
	}
}

// RegisterUser upserts a telegram user keyed by its id.
func (r *Repo) RegisterUser(ctx context.Context, telegramID int64, username string) error {
	now := time.Now().UTC()
	_, err := r.users.UpdateByID(ctx, telegramID, bson.M{
		"$set":         bson.M{"username": username, "updatedAt": now},
		"$setOnInsert": bson.M{"createdAt": now},
	}, options.Update().SetUpsert(true))
	if err != nil {
		return &listings.StoreError{Op: "register user", Err: err}
	}
	return nil
}

var (
	_ listings.Store       = (*Repo)(nil)
	_ publish.Publications = (*Repo)(nil)
)
