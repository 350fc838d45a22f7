// Package catalog loads the notebook product catalog and retrieves products
// for a customer's resolved slots with BM25 keyword ranking.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// maxConcurrentLoads limits concurrent catalog file reads.
const maxConcurrentLoads = 4

// Product is one notebook in the catalog.
type Product struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Brand       string   `yaml:"brand" json:"brand"`
	Price       int      `yaml:"price" json:"price"` // NTD
	CPU         string   `yaml:"cpu" json:"cpu"`
	CPUVendor   string   `yaml:"cpu_vendor" json:"cpu_vendor"` // intel, amd
	GPU         string   `yaml:"gpu" json:"gpu"`
	GPUTier     string   `yaml:"gpu_tier" json:"gpu_tier"` // integrated, dedicated, high_end
	WeightKg    float64  `yaml:"weight_kg" json:"weight_kg"`
	ScreenInch  float64  `yaml:"screen_inch" json:"screen_inch"`
	Usage       []string `yaml:"usage" json:"usage"`
	Description string   `yaml:"description" json:"description"`

	// Score is the BM25 relevance of the last search; zero outside search results.
	Score float64 `yaml:"-" json:"score,omitempty"`
}

// Document returns the text indexed for keyword search.
func (p *Product) Document() string {
	parts := []string{p.Name, p.Brand, p.CPU, p.GPU, p.Description}
	parts = append(parts, p.Usage...)
	return strings.Join(parts, " ")
}

// File is the authored catalog file.
type File struct {
	Products []Product `yaml:"products"`
}

// Default returns the built-in sample catalog.
func Default() []Product {
	products, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default catalog is invalid: %v", err))
	}
	return products
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) ([]Product, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validate(f.Products); err != nil {
		return nil, err
	}
	return f.Products, nil
}

// LoadFiles reads several catalog files concurrently and concatenates them in
// argument order. Product ids must be unique across files.
func LoadFiles(ctx context.Context, paths []string) ([]Product, error) {
	parts := make([][]Product, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)
	for i, path := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read catalog %s: %w", path, err)
			}
			products, err := Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			parts[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Product
	for _, p := range parts {
		all = append(all, p...)
	}
	if err := validate(all); err != nil {
		return nil, err
	}
	return all, nil
}

func validate(products []Product) error {
	if len(products) == 0 {
		return domerrors.NewValidationError("products", "catalog has no products")
	}
	seen := make(map[string]struct{}, len(products))
	for i := range products {
		p := &products[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Brand = strings.ToLower(strings.TrimSpace(p.Brand))
		p.CPUVendor = strings.ToLower(strings.TrimSpace(p.CPUVendor))
		p.GPUTier = strings.ToLower(strings.TrimSpace(p.GPUTier))
		switch {
		case p.ID == "":
			return domerrors.NewValidationError("id", fmt.Sprintf("product %d has no id", i))
		case p.Name == "":
			return domerrors.NewValidationError("name", fmt.Sprintf("product %q has no name", p.ID))
		case p.Price <= 0:
			return domerrors.NewValidationError("price", fmt.Sprintf("product %q has invalid price %d", p.ID, p.Price))
		}
		if _, dup := seen[p.ID]; dup {
			return domerrors.NewValidationError("id", fmt.Sprintf("duplicate product id %q", p.ID))
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
