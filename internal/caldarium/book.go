package caldarium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

const recipeBucket = "recipes"

var ErrNoRecipe = errors.New("no recipe for these ingredients")

// Recipe maps a set of ingredients to the secret the cauldron gives up.
type Recipe struct {
	Ingredients []string `json:"ingredients"`
	Secret      string   `json:"secret"`
}

// DefaultRecipes seed an empty book.
var DefaultRecipes = []Recipe{
	{Ingredients: []string{"feather", "phantom_membrane"}, Secret: "volare"},
	{Ingredients: []string{"blaze_powder", "gunpowder"}, Secret: "infierno"},
	{Ingredients: []string{"ender_pearl", "eye_of_ender"}, Secret: "ianuae"},
	{Ingredients: []string{"glowstone_dust", "paper", "gunpowder"}, Secret: "stella"},
	{Ingredients: []string{"golden_apple"}, Secret: "satio"},
	{Ingredients: []string{"copper_ingot", "trident"}, Secret: "shakti"},
	{Ingredients: []string{"rabbit_foot", "slime_ball"}, Secret: "exsultus"},
	{Ingredients: []string{"compass", "map"}, Secret: "Where you stand is remembered by hic."},
	{Ingredients: []string{"elytra"}, Secret: "Declaro what you already hold, and it shall be yours again."},
}

// Book is a bbolt-backed recipe book.
type Book struct {
	db *bbolt.DB
}

// Open opens or creates the recipe book at path.
func Open(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("recipe book path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open recipe book: %w", err)
	}

	book := &Book{db: db}
	if err := book.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return book, nil
}

func (b *Book) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// RecipeKey normalizes ingredients: trimmed, lower-cased, sorted and
// joined with "+", so order and case never matter.
func RecipeKey(ingredients []string) string {
	normalized := make([]string, 0, len(ingredients))
	for _, ingredient := range ingredients {
		ingredient = strings.ToLower(strings.TrimSpace(ingredient))
		if ingredient != "" {
			normalized = append(normalized, ingredient)
		}
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "+")
}

// Put stores recipe, replacing any recipe with the same ingredients.
func (b *Book) Put(ctx context.Context, recipe Recipe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b == nil || b.db == nil {
		return fmt.Errorf("recipe book is not configured")
	}
	key := RecipeKey(recipe.Ingredients)
	if key == "" {
		return fmt.Errorf("recipe needs at least one ingredient")
	}
	if strings.TrimSpace(recipe.Secret) == "" {
		return fmt.Errorf("recipe %q has no secret", key)
	}

	payload, err := json.Marshal(recipe)
	if err != nil {
		return fmt.Errorf("marshal recipe: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recipeBucket))
		if bucket == nil {
			return fmt.Errorf("recipe bucket is missing")
		}
		return bucket.Put([]byte(key), payload)
	})
}

// Brew returns the secret for ingredients, or ErrNoRecipe.
func (b *Book) Brew(ctx context.Context, ingredients []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if b == nil || b.db == nil {
		return "", fmt.Errorf("recipe book is not configured")
	}
	key := RecipeKey(ingredients)
	if key == "" {
		return "", ErrNoRecipe
	}

	var recipe Recipe
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recipeBucket))
		if bucket == nil {
			return fmt.Errorf("recipe bucket is missing")
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return ErrNoRecipe
		}
		if err := json.Unmarshal(payload, &recipe); err != nil {
			return fmt.Errorf("unmarshal recipe: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return recipe.Secret, nil
}

// Len counts stored recipes.
func (b *Book) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recipeBucket))
		if bucket == nil {
			return fmt.Errorf("recipe bucket is missing")
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n, err
}

// Seed stores recipes only if the book is empty. It returns how many
// recipes were written.
func (b *Book) Seed(ctx context.Context, recipes []Recipe) (int, error) {
	n, err := b.Len(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for _, recipe := range recipes {
		if err := b.Put(ctx, recipe); err != nil {
			return 0, fmt.Errorf("seed recipe: %w", err)
		}
	}
	log.WithField("recipes", len(recipes)).Info("[Caldarium] recipe book seeded")
	return len(recipes), nil
}

func (b *Book) ensureBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recipeBucket))
		if err != nil {
			return fmt.Errorf("create recipe bucket: %w", err)
		}
		return nil
	})
}
