package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ProductConfig describes one purchasable generation package.
type ProductConfig struct {
	SKU             string `mapstructure:"sku" json:"sku"`
	Name            string `mapstructure:"name" json:"name"`
	Description     string `mapstructure:"description" json:"description"`
	PriceCents      int64  `mapstructure:"price_cents" json:"price_cents"`
	Currency        string `mapstructure:"currency" json:"currency"`
	Generations     int    `mapstructure:"generations" json:"generations"`
	DiscountPercent int    `mapstructure:"discount_percent" json:"discount_percent,omitempty"`
	ValidityDays    int    `mapstructure:"validity_days" json:"validity_days"`
}

type CatalogConfig struct {
	Products []ProductConfig `mapstructure:"products"`
}

func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Products: []ProductConfig{
			{
				SKU:          "starter_10",
				Name:         "Starter Pack",
				Description:  "10 image generations",
				PriceCents:   299,
				Currency:     "USD",
				Generations:  10,
				ValidityDays: 365,
			},
			{
				SKU:             "pro_50",
				Name:            "Pro Pack",
				Description:     "50 image generations",
				PriceCents:      999,
				Currency:        "USD",
				Generations:     50,
				DiscountPercent: 17,
				ValidityDays:    365,
			},
			{
				SKU:          "unlimited_monthly",
				Name:         "Unlimited Monthly",
				Description:  "Up to 500 generations for 30 days",
				PriceCents:   1499,
				Currency:     "USD",
				Generations:  500,
				ValidityDays: 30,
			},
		},
	}
}

type CatalogHolder struct {
	current atomic.Value // holds CatalogConfig
}

// NewCatalogHolder reads products.yml when present and watches it for changes.
func NewCatalogHolder() (*CatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("products")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/imagegen")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("IMAGEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultCatalogConfig())
		return holder, nil
	}

	var cfg CatalogConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateCatalog(cfg); err != nil {
		return nil, err
	}
	holder.current.Store(normalizeCatalog(cfg))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CatalogConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[catalog-config] reload failed: %v", err)
			return
		}
		if err := ValidateCatalog(updated); err != nil {
			log.Printf("[catalog-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(normalizeCatalog(updated))
		log.Printf("[catalog-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticCatalogHolder pins a catalog without file lookup.
func NewStaticCatalogHolder(cfg CatalogConfig) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(normalizeCatalog(cfg))
	return holder
}

func (h *CatalogHolder) Get() CatalogConfig {
	return h.current.Load().(CatalogConfig)
}

func ValidateCatalog(cfg CatalogConfig) error {
	if len(cfg.Products) == 0 {
		return errors.New("products cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Products))
	for _, p := range cfg.Products {
		sku := strings.TrimSpace(p.SKU)
		if sku == "" {
			return errors.New("product sku is required")
		}
		if _, ok := seen[sku]; ok {
			return fmt.Errorf("duplicate product sku %q", sku)
		}
		seen[sku] = struct{}{}
		if p.Generations <= 0 {
			return fmt.Errorf("product %q must grant at least one generation", sku)
		}
		if p.PriceCents < 0 {
			return fmt.Errorf("product %q has negative price", sku)
		}
		if p.ValidityDays <= 0 {
			return fmt.Errorf("product %q must have positive validity_days", sku)
		}
	}
	return nil
}

func normalizeCatalog(cfg CatalogConfig) CatalogConfig {
	out := CatalogConfig{Products: make([]ProductConfig, 0, len(cfg.Products))}
	for _, p := range cfg.Products {
		p.SKU = strings.TrimSpace(p.SKU)
		p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
		if p.Currency == "" {
			p.Currency = "USD"
		}
		out.Products = append(out.Products, p)
	}
	return out
}
