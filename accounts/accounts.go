// Package accounts loads the payout/operator/fanout/operated account
// configuration that governs where settled funds go and who is allowed
// to sponsor transaction fees.
package accounts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AccountsConfig is the full set of configured accounts, keyed by id, in
// the order they were loaded from disk.
type AccountsConfig struct {
	order    []string
	byID     map[string]*AccountConfig
}

// NewAccountsConfig builds an empty AccountsConfig.
func NewAccountsConfig() *AccountsConfig {
	return &AccountsConfig{byID: make(map[string]*AccountConfig)}
}

func (c *AccountsConfig) add(a *AccountConfig) {
	if _, exists := c.byID[a.ID]; !exists {
		c.order = append(c.order, a.ID)
	}
	c.byID[a.ID] = a
}

// GetByID returns the account with the given id, if any.
func (c *AccountsConfig) GetByID(id string) (*AccountConfig, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// PrimaryPayout returns the first payout-role account loaded, in file
// order; used as the default settlement destination when a product
// doesn't name one explicitly.
func (c *AccountsConfig) PrimaryPayout() (*AccountConfig, bool) {
	for _, id := range c.order {
		a := c.byID[id]
		if a.IsPayout() {
			return a, true
		}
	}
	return nil, false
}

// Payouts returns all payout-role accounts, in file order.
func (c *AccountsConfig) Payouts() []*AccountConfig {
	return c.filterByRole(func(a *AccountConfig) bool { return a.IsPayout() })
}

// Operators returns all operator-role accounts, in file order.
func (c *AccountsConfig) Operators() []*AccountConfig {
	return c.filterByRole(func(a *AccountConfig) bool { return a.IsOperator() })
}

func (c *AccountsConfig) filterByRole(pred func(*AccountConfig) bool) []*AccountConfig {
	var out []*AccountConfig
	for _, id := range c.order {
		if a := c.byID[id]; pred(a) {
			out = append(out, a)
		}
	}
	return out
}

// Len reports how many accounts are configured.
func (c *AccountsConfig) Len() int { return len(c.order) }

// RoleKind discriminates an AccountRole's concrete shape. Payout,
// Operator, Fanout and Operated are the four roles the original source
// implements; a Hook role is named in the data model but was never
// built there either, so it has no variant here.
type RoleKind string

const (
	RolePayout   RoleKind = "payout"
	RoleOperator RoleKind = "operator"
	RoleFanout   RoleKind = "fanout"
	RoleOperated RoleKind = "operated"
)

// AccountRole is a tagged union over the four account role shapes. Only
// the field matching Kind is populated.
type AccountRole struct {
	Kind     RoleKind
	Payout   *PayoutRole
	Operator *OperatorRole
	Fanout   *FanoutRole
	Operated *OperatedRole
}

// PayoutRole is a role that receives settled payments.
type PayoutRole struct {
	RecipientAddress string `yaml:"recipient_address"`
	Network          string `yaml:"network"`
}

// OperatorRole manages and sponsors transaction signing.
type OperatorRole struct {
	Keychain Keychain `yaml:"keychain"`
}

// KeychainKind discriminates a Keychain's concrete shape.
type KeychainKind string

const (
	KeychainTurnkey KeychainKind = "turnkey"
	KeychainBase58  KeychainKind = "base58"
)

// Keychain is the key-management configuration for an operator account.
type Keychain struct {
	Kind    KeychainKind
	Turnkey *TurnkeyKeychain
	Base58  *Base58Keychain
}

// TurnkeyKeychain references a key managed by Turnkey.
type TurnkeyKeychain struct {
	Secret string `yaml:"secret"`
}

// Base58Keychain holds a base58-encoded Solana secret key, or a
// reference to the environment variable that holds one.
type Base58Keychain struct {
	Secret string `yaml:"secret"`
}

// FanoutRole distributes a settled payment across multiple recipients.
type FanoutRole struct {
	Operator   string             `yaml:"operator"`
	Recipients []FanoutRecipient `yaml:"recipients"`
}

// FanoutRecipient is one split target of a fanout distribution.
type FanoutRecipient struct {
	Account      string   `yaml:"account"`
	FixedAmount  *uint64  `yaml:"fixed_amount,omitempty"`
	Percentage   *float64 `yaml:"percentage,omitempty"`
}

// OperatedRole marks an account as controlled by another operator account.
type OperatedRole struct {
	Operator string `yaml:"operator,omitempty"`
}

// AccountConfig is a single account loaded from a YAML file. ID defaults
// to the snake_cased filename when the file doesn't set one explicitly.
type AccountConfig struct {
	ID              string
	Name            string
	Role            AccountRole
	CurrencyMapping map[string][]string
}

// IsPayout reports whether this account is a payout-role account.
func (a *AccountConfig) IsPayout() bool { return a.Role.Kind == RolePayout }

// IsOperator reports whether this account is an operator-role account.
func (a *AccountConfig) IsOperator() bool { return a.Role.Kind == RoleOperator }

// IsFanout reports whether this account is a fanout-role account.
func (a *AccountConfig) IsFanout() bool { return a.Role.Kind == RoleFanout }

// yamlAccountConfig is the raw shape read off disk before role
// resolution; separated from AccountConfig so the role tag dispatch can
// live in one place.
type yamlAccountConfig struct {
	ID              string              `yaml:"id"`
	Name            string              `yaml:"name"`
	Role            yamlAccountRole     `yaml:"role"`
	CurrencyMapping map[string][]string `yaml:"currency_mapping"`
}

type yamlAccountRole struct {
	Type string `yaml:"type"`

	RecipientAddress string `yaml:"recipient_address"`
	Network          string `yaml:"network"`

	Keychain yamlKeychain `yaml:"keychain"`

	Operator   string            `yaml:"operator"`
	Recipients []FanoutRecipient `yaml:"recipients"`
}

type yamlKeychain struct {
	Type   string `yaml:"type"`
	Secret string `yaml:"secret"`
}

func resolveRole(raw yamlAccountRole) (AccountRole, error) {
	switch raw.Type {
	case "payout":
		network := raw.Network
		if network == "" {
			network = "solana"
		}
		return AccountRole{Kind: RolePayout, Payout: &PayoutRole{
			RecipientAddress: raw.RecipientAddress,
			Network:          network,
		}}, nil
	case "operator":
		keychain, err := resolveKeychain(raw.Keychain)
		if err != nil {
			return AccountRole{}, err
		}
		return AccountRole{Kind: RoleOperator, Operator: &OperatorRole{Keychain: keychain}}, nil
	case "fanout":
		return AccountRole{Kind: RoleFanout, Fanout: &FanoutRole{
			Operator:   raw.Operator,
			Recipients: raw.Recipients,
		}}, nil
	case "operated":
		return AccountRole{Kind: RoleOperated, Operated: &OperatedRole{Operator: raw.Operator}}, nil
	default:
		return AccountRole{}, fmt.Errorf("unknown account role type %q", raw.Type)
	}
}

func resolveKeychain(raw yamlKeychain) (Keychain, error) {
	switch raw.Type {
	case "", "turnkey":
		return Keychain{Kind: KeychainTurnkey, Turnkey: &TurnkeyKeychain{Secret: raw.Secret}}, nil
	case "base58":
		return Keychain{Kind: KeychainBase58, Base58: &Base58Keychain{Secret: raw.Secret}}, nil
	default:
		return Keychain{}, fmt.Errorf("unknown keychain type %q", raw.Type)
	}
}

// ToSnakeCase converts a filename-like string to snake_case, used to
// derive an account id when one isn't set in the file: hyphens become
// underscores, and each uppercase letter (except a leading one) is
// preceded by an underscore and lowercased.
func ToSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '-':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAccountConfig parses a single YAML account document.
func ParseAccountConfig(data []byte) (*AccountConfig, error) {
	var raw yamlAccountConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	role, err := resolveRole(raw.Role)
	if err != nil {
		return nil, err
	}
	return &AccountConfig{
		ID:              raw.ID,
		Name:            raw.Name,
		Role:            role,
		CurrencyMapping: raw.CurrencyMapping,
	}, nil
}

// LoadAccountsFromDir loads every *.yaml/*.yml file in dir as an
// account, keyed by its id (defaulting to the snake_cased filename). A
// missing directory yields an empty, non-error AccountsConfig.
func LoadAccountsFromDir(dir string) (*AccountsConfig, error) {
	accounts := NewAccountsConfig()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return accounts, nil
		}
		return nil, fmt.Errorf("reading accounts directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		account, err := ParseAccountConfig(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}

		if account.ID == "" {
			stem := strings.TrimSuffix(entry.Name(), ext)
			account.ID = ToSnakeCase(stem)
		}

		accounts.add(account)
	}

	return accounts, nil
}
