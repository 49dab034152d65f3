package config

import (
	"fmt"
	"os"

	"github.com/go-yaml/yaml"
	"github.com/shopspring/decimal"
)

// Category holds a category name and the keywords that vote for it.
// Order matters: ties in keyword scoring resolve to the earlier entry.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// User is an entry in the static credential table.
type User struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

// Config is the immutable application configuration. Rates are expressed as
// units of the foreign currency per one unit of the base currency.
type Config struct {
	BaseCurrency string             `yaml:"base_currency"`
	Rates        map[string]float64 `yaml:"rates"`
	Categories   []Category         `yaml:"categories"`
	// DefaultCategory is assigned when no keyword scores and is treated as
	// "no confident guess" when an LLM returns it.
	DefaultCategory string `yaml:"default_category"`
	Users           []User `yaml:"users"`
}

// Default returns the built-in configuration: EUR accounting base, the
// static rate table, and the Spanish/English establishment keyword sets.
func Default() *Config {
	return &Config{
		BaseCurrency:    "EUR",
		DefaultCategory: "Otros",
		Rates: map[string]float64{
			"USD": 1.09,
			"GBP": 0.87,
			"JPY": 161.50,
			"CHF": 0.97,
			"CAD": 1.49,
			"AUD": 1.65,
			"NZD": 1.75,
			"HKD": 8.55,
			"SGD": 1.45,
			"CNY": 7.85,
			"MYR": 4.85,
			"AED": 4.00,
			"BRL": 5.48,
			"ARS": 350.00,
			"MXN": 18.65,
			"COP": 4200.00,
			"CLP": 950.00,
			"PEN": 3.75,
			"UYU": 38.50,
		},
		Categories: []Category{
			{Name: "Restaurante", Keywords: []string{
				"restaurante", "bar", "cafe", "cafeteria", "taberna", "tapas", "comida", "menú",
				"pizzeria", "hamburgueseria", "marisqueria", "asador", "braseria", "cerveceria",
				"tasca", "bistro", "gastrobar", "parrilla", "cocina", "burger", "pizza",
			}},
			{Name: "Transporte", Keywords: []string{
				"taxi", "uber", "cabify", "metro", "bus", "tren", "avión", "vuelo", "parking",
				"aparcamiento", "peaje", "renfe", "aena", "aeropuerto", "estacion", "transport",
			}},
			{Name: "Alojamiento", Keywords: []string{
				"hotel", "hostal", "apartamento", "alojamiento", "booking", "pension", "resort",
				"motel", "airbnb", "hospedaje", "lodge", "inn",
			}},
			{Name: "Combustible", Keywords: []string{
				"gasolina", "diesel", "combustible", "repsol", "cepsa", "bp", "shell", "galp",
				"petronor", "esso", "fuel", "carburante",
			}},
			{Name: "Compras", Keywords: []string{
				"supermercado", "tienda", "shop", "centro comercial", "farmacia", "mercadona",
				"carrefour", "dia", "lidl", "alcampo", "corte inglés", "market", "store",
			}},
			{Name: "Entretenimiento", Keywords: []string{
				"cine", "teatro", "concierto", "museo", "parque", "discoteca", "pub", "club",
			}},
			{Name: "Salud", Keywords: []string{
				"farmacia", "hospital", "clinica", "médico", "dentista", "veterinario", "óptica",
			}},
			{Name: "Tecnología", Keywords: []string{
				"mediamarkt", "fnac", "apple", "samsung", "phone house", "tech", "electronics",
			}},
		},
		Users: []User{
			{Name: "paul", Password: "paul"},
			{Name: "edurne", Password: "edurne", Admin: true},
		},
	}
}

// Load returns the default configuration overlaid with values from the given
// YAML file. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if overlay.BaseCurrency != "" {
		c.BaseCurrency = overlay.BaseCurrency
	}
	if overlay.DefaultCategory != "" {
		c.DefaultCategory = overlay.DefaultCategory
	}
	if len(overlay.Rates) > 0 {
		c.Rates = overlay.Rates
	}
	if len(overlay.Categories) > 0 {
		c.Categories = overlay.Categories
	}
	if len(overlay.Users) > 0 {
		c.Users = overlay.Users
	}
	return c, nil
}

// DecimalRates converts the rate table to decimals for conversion math.
func (c *Config) DecimalRates() map[string]decimal.Decimal {
	rates := make(map[string]decimal.Decimal, len(c.Rates))
	for code, rate := range c.Rates {
		rates[code] = decimal.NewFromFloat(rate)
	}
	return rates
}

// CategoryNames returns the configured category names in order.
func (c *Config) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		names = append(names, cat.Name)
	}
	return names
}

// LookupUser resolves credentials against the user table.
func (c *Config) LookupUser(name, password string) (User, bool) {
	for _, u := range c.Users {
		if u.Name == name && u.Password == password {
			return u, true
		}
	}
	return User{}, false
}
