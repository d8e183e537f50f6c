package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"realm-ledger/internal/idhash"
)

// Contract locates a deployed contract.
type Contract struct {
	Address         common.Address `json:"address"`
	ChainID         int64          `json:"chainId"`
	DeploymentBlock uint64         `json:"deploymentBlock"`
}

// RealmConfig describes one configured realm.
type RealmConfig struct {
	ID              uint16 `json:"id"`
	Name            string `json:"name"`
	RevenueSharePct uint8  `json:"revenueSharePct,omitempty"` // informational; applied on-chain
	Contract
}

// Registry is the static, checksummed description of the token and all realms.
// Realms keep file order, which is the processing order of every tick.
type Registry struct {
	Token  Contract      `json:"token"`
	Realms []RealmConfig `json:"realms"`

	checksum string
	byID     map[uint16]int
	byAddr   map[common.Address]int
}

// registryFile is the on-disk shape of the registry (YAML or TOML).
type registryFile struct {
	Token  contractFile `yaml:"token" toml:"token"`
	Realms []realmFile  `yaml:"realms" toml:"realms"`
}

type contractFile struct {
	Address         string `yaml:"address" toml:"address"`
	ChainID         int64  `yaml:"chain_id" toml:"chain_id"`
	DeploymentBlock uint64 `yaml:"deployment_block" toml:"deployment_block"`
}

type realmFile struct {
	ID              uint16 `yaml:"id" toml:"id"`
	Name            string `yaml:"name" toml:"name"`
	RevenueSharePct uint8  `yaml:"revenue_share_pct" toml:"revenue_share_pct"`
	contractFile    `yaml:",inline"`
}

// LoadRegistry reads a registry file. The format follows the extension:
// .yaml/.yml or .toml.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read realms file: %w", err)
	}
	return ParseRegistry(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
}

// ParseRegistry decodes registry data in the given format ("yaml", "yml" or "toml").
func ParseRegistry(data []byte, format string) (*Registry, error) {
	var raw registryFile
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
			return nil, fmt.Errorf("parse realms yaml: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(os.ExpandEnv(string(data)), &raw); err != nil {
			return nil, fmt.Errorf("parse realms toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported realms file format %q", format)
	}

	token, err := raw.Token.contract("token")
	if err != nil {
		return nil, err
	}
	realms := make([]RealmConfig, 0, len(raw.Realms))
	for _, r := range raw.Realms {
		c, err := r.contractFile.contract(fmt.Sprintf("realm %d", r.ID))
		if err != nil {
			return nil, err
		}
		realms = append(realms, RealmConfig{
			ID:              r.ID,
			Name:            r.Name,
			RevenueSharePct: r.RevenueSharePct,
			Contract:        c,
		})
	}
	return NewRegistry(token, realms)
}

func (c contractFile) contract(what string) (Contract, error) {
	if !common.IsHexAddress(c.Address) {
		return Contract{}, fmt.Errorf("%s: invalid address %q", what, c.Address)
	}
	return Contract{
		Address:         common.HexToAddress(c.Address),
		ChainID:         c.ChainID,
		DeploymentBlock: c.DeploymentBlock,
	}, nil
}

// NewRegistry validates, indexes and checksums a registry.
func NewRegistry(token Contract, realms []RealmConfig) (*Registry, error) {
	if token.Address == (common.Address{}) {
		return nil, fmt.Errorf("token address must be configured")
	}

	r := &Registry{
		Token:  token,
		Realms: make([]RealmConfig, len(realms)),
		byID:   make(map[uint16]int, len(realms)),
		byAddr: make(map[common.Address]int, len(realms)),
	}
	copy(r.Realms, realms)

	for i, realm := range r.Realms {
		if realm.Address == (common.Address{}) {
			return nil, fmt.Errorf("realm %d: zero address", realm.ID)
		}
		if _, dup := r.byID[realm.ID]; dup {
			return nil, fmt.Errorf("duplicate realm id %d", realm.ID)
		}
		if _, dup := r.byAddr[realm.Address]; dup {
			return nil, fmt.Errorf("realm %d: duplicate address %s", realm.ID, realm.Address.Hex())
		}
		if realm.RevenueSharePct > 100 {
			return nil, fmt.Errorf("realm %d: revenue_share_pct %d > 100", realm.ID, realm.RevenueSharePct)
		}
		r.byID[realm.ID] = i
		r.byAddr[realm.Address] = i
	}

	sum, err := idhash.Checksum(r)
	if err != nil {
		return nil, fmt.Errorf("checksum registry: %w", err)
	}
	r.checksum = sum
	return r, nil
}

// Checksum returns the content checksum of the registry.
func (r *Registry) Checksum() string {
	return r.checksum
}

// Realm looks up a realm by id.
func (r *Registry) Realm(id uint16) (RealmConfig, bool) {
	i, ok := r.byID[id]
	if !ok {
		return RealmConfig{}, false
	}
	return r.Realms[i], true
}

// RealmByAddress looks up a realm by contract address.
func (r *Registry) RealmByAddress(addr common.Address) (RealmConfig, bool) {
	i, ok := r.byAddr[addr]
	if !ok {
		return RealmConfig{}, false
	}
	return r.Realms[i], true
}

// HasRealm reports whether a realm id is configured.
func (r *Registry) HasRealm(id uint16) bool {
	_, ok := r.byID[id]
	return ok
}

// RealmIDs returns configured realm ids in file order.
func (r *Registry) RealmIDs() []uint16 {
	ids := make([]uint16, len(r.Realms))
	for i, realm := range r.Realms {
		ids[i] = realm.ID
	}
	return ids
}
